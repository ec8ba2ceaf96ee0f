// Package redisstore implements account.Store on Redis.
//
// # Layout
//
// Every account is one JSON document under {prefix}:acct:{id}. Handle, email
// and pending token fingerprints are secondary index keys holding the
// account id. Failed-attempt records live under {prefix}:fail:{subject}.
//
// # Concurrency
//
// UpdateAccount and UpdateAttempt are WATCH/MULTI optimistic transactions
// retried a bounded number of times on contention. Uniqueness of handle and
// email is enforced by watching the target index key before claiming it.
//
// Soft-deleted accounts keep their index keys, so their handle and email
// stay reserved.
package redisstore
