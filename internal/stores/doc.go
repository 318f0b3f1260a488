// Package stores provides the Redis-backed reset session store.
//
// # Design
//
// Each user has at most one session, persisted as a versioned binary record
// with a TTL that is re-applied in full on every write. A secondary token
// index maps reset and confirm tokens back to the owning user so token
// lookups avoid a store-wide scan; index entries orphaned by overwrites are
// rejected at read time against the live record. The OTP attempt counter is
// mutated under WATCH/MULTI optimistic transactions with retry on
// contention, and token comparisons use constant-time compare.
//
// # What this package must NOT do
//
//   - Import resetd or any sibling internal package.
//   - Log or expose plaintext OTPs or tokens.
//   - Decide workflow consequences — flow functions own policy.
package stores
