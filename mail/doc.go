// Package mail provides the outbound message implementations the identity
// engine sends confirmation and reset links through.
//
// SMTP delivers plain-text messages to a relay; Log only writes them to a
// logger and is meant for local development.
package mail
