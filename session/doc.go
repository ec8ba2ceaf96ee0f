// Package session mints and verifies stateless bearer session credentials.
//
// A credential is a signed JWT asserting an account id (sub) and the instant
// it was issued. Issued-at is also carried with millisecond precision in the
// private "iam" claim so callers can compare it exactly against the account's
// password-change timestamp; the registered iat claim is second-granular.
//
// Verification fails closed. Every malformed, tampered, expired or foreign
// credential yields ErrInvalid and nothing else.
package session
