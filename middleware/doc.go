// Package middleware adapts identity.Engine session verification to
// net/http.
//
//   - [Protect] verifies the session credential from the Authorization
//     header or the jwt cookie and stores the [identity.Principal] in the
//     request context.
//   - [RestrictTo] admits only principals holding one of the given roles.
//   - [ClientInfo] records the caller's IP and User-Agent for auditing and
//     client-bound lockouts.
//
// This package makes no authentication decisions of its own; every verdict
// comes from the Engine.
package middleware
