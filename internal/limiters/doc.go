// Package limiters provides the Redis-backed reset-request throttle.
//
// [RequestLimiter] keeps a {count, lastRequest} record per identifier+method
// with a TTL equal to the rolling window. Check and Record are deliberately
// separate: the workflow records a request even when the identifier resolves
// to no account, so unknown and known identifiers consume the budget
// identically.
//
// # What this package must NOT do
//
//   - Import resetd or any sibling internal package.
//   - Make policy decisions beyond counting — flow functions decide consequences.
package limiters
