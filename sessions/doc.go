// Package sessions provides the Redis-backed authentication session
// store and the HS256 access-token manager.
//
// Each session is stored as a versioned binary blob under its own key,
// with a per-user set index so InvalidateAllForUser can terminate every
// session for a user in one sweep. The reset workflow calls that sweep
// after a credential change so sessions issued against the old password
// stop working immediately.
//
// # Architecture boundaries
//
//   - This package talks to Redis only. It never reads the user
//     directory and never inspects passwords.
//   - Token issuance is stateless HS256; revocation is enforced by the
//     session store, not by the token.
//   - The reset engine consumes only InvalidateAllForUser. TokenManager
//     is the surface an embedding auth service uses to mint and check
//     access tokens against these sessions; see the package example.
package sessions
