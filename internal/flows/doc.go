// Package flows contains pure-function orchestrators for every Engine
// operation of the reset workflow.
//
// Each flow function (RunRequestReset, RunVerifyResetOTP, RunConfirmReset,
// RunResetStatus, RunCancelReset) accepts a typed dependency struct and
// returns results without side-effects beyond those dependencies. This
// keeps the Engine type thin and makes the state machine testable with
// mock dependencies.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import resetd (to avoid import cycles).
//   - Perform I/O directly — all I/O is mediated through dependency funcs.
package flows
