// Package password hashes and verifies account passwords.
//
// New hashes use Argon2id encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from the previous platform are bcrypt ($2a$, $2b$, $2y$).
// They verify normally and always report NeedsUpgrade, so the engine
// re-hashes them with Argon2id on the next successful login.
//
// Password policy (length, confirmation) is enforced by the engine, not here.
// This package never logs or stores plaintext.
package password
