// Package sqlite persists match output (events, accepted and rejected
// calibrations, and the ball path) in a SQLite database.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary. Store implements session.Sink so it can be attached directly to a
// running match; the query methods read the stored output back for reports.
package sqlite
