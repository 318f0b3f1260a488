// Package password provides Argon2id hashing with PHC-encoded output.
//
// Hashes are self-describing: Verify and NeedsUpgrade read the cost
// parameters out of the encoded string, so parameter changes never
// invalidate stored credentials.
//
// # What this package must NOT do
//
//   - Enforce password policy. Length and character-class rules belong
//     to the caller; this package hashes whatever it is given.
//   - Store anything. Persistence of the encoded hash is the caller's
//     concern.
package password
