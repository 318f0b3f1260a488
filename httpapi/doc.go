// Package httpapi mounts the password reset workflow on a gin router:
// POST requests a reset, PUT verifies the OTP, PATCH commits the new
// password, GET reports status (or the workflow requirements when called
// without parameters), DELETE cancels.
//
// Handlers translate engine errors to HTTP statuses and fixed messages.
// Probe-friendly details never leak: an unknown identifier and an
// expired session both come back as the same generic response.
package httpapi
