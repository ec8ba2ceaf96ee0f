// Package httpapi exposes the identity engine over JSON/HTTP for the
// identityd daemon.
package httpapi
