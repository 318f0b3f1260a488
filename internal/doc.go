// Package internal contains helpers that are intentionally private to
// resetd: token and OTP generation backed by crypto/rand.
//
// # Sub-packages
//
//   - flows — pure-function workflow orchestrators for every Engine operation
//   - limiters — reset-request rate limiting
//   - stores — the Redis reset session store
//
// # What this package must NOT do
//
//   - Export types that appear in the public resetd API.
//   - Be imported by any package outside the resetd module.
package internal
