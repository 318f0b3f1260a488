// Package resetd implements a password-reset workflow engine with OTP
// verification, per-identifier rate limiting, and Redis-backed session
// state.
//
// The workflow walks four stages: request (SMS OTP or email link), OTP
// verification for phone resets, credential confirmation, and cancel or
// status queries. Every session lives ten minutes from its last write, OTP
// checks are bounded at three failures, and reset requests are throttled
// per identifier and method.
//
// Engines are assembled through [Builder]:
//
//	engine, err := resetd.New().
//		WithRedis(rdb).
//		WithDirectory(dir).
//		WithNotifier(notifier).
//		Build()
//
// # Architecture boundaries
//
// resetd is the public surface. It exposes [Engine], [Builder], [Config],
// the error taxonomy, and the collaborator interfaces ([UserDirectory],
// [Notifier], [AuditSink], [SessionInvalidator]). Flow orchestration,
// session encoding, and rate limiting live under internal/ and are never
// exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or encoding details.
//   - Return different shapes for known and unknown identifiers on request.
//   - Leak OTPs or tokens through status queries, errors, or audit events.
package resetd
