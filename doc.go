// Package identity is the account and access-control core of the natours
// service: signup with email confirmation, login guarded against brute force,
// password reset and change, username and profile changes, soft deletion, and
// verification of session credentials.
//
// Engine methods are safe to call from multiple goroutines once [Builder.Build]
// has returned.
//
// # Architecture boundaries
//
// identity is the public surface. It exposes [Engine], [Builder], [Config] and
// the error taxonomy. Persistence lives behind [Store] (see store/memstore,
// store/redisstore and store/pgstore), outbound mail behind [Mailer]. Token
// issuing, lockout bookkeeping and the pure policy checks live under internal/
// and are never exported.
//
// # Errors
//
// Every operation returns nil or an error matching exactly one of
// [ErrValidation], [ErrNotFound], [ErrUnauthorized], [ErrLocked],
// [ErrForbidden], [ErrConflict] or [ErrDependencyUnavailable]:
//
//	res, err := engine.Login(ctx, identity.LoginInput{Identifier: "jonas", Password: pw})
//	if until, ok := identity.UnlockTime(err); ok {
//		// locked out until `until`
//	}
//
// Messages from [Message] are safe to show to end users. The underlying cause
// is kept in [Error.Err] for logs.
//
// # Sessions
//
// A session credential is a signed JWT carrying the account id and a
// millisecond issue time. [Engine.Authenticate] rejects credentials issued
// before the account's last password change and credentials of deactivated
// accounts.
package identity
