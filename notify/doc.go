// Package notify delivers reset material out of band: OTP codes by SMS
// through an HTTP gateway, reset links by email through Amazon SES.
//
// The [Dispatcher] is the piece the engine sees. It is fire-and-forget:
// the reset workflow never waits on, and never learns about, delivery
// failures. That keeps delivery latency and provider outages out of the
// request path and avoids leaking provider errors to callers.
package notify
