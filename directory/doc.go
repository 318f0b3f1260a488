// Package directory adapts the marketplace's Postgres user store to the
// interfaces the reset engine consumes: user lookup by phone, email, or
// ID, transactional credential updates, and a persistent audit sink.
//
// # Architecture boundaries
//
//   - This package owns the gorm models and the database session. The
//     engine only ever sees [resetd.UserRecord] values and errors.
//   - Lookup misses are reported as [resetd.ErrUserNotFound]; every
//     other database failure is wrapped and surfaces as infrastructure
//     trouble upstream.
package directory
