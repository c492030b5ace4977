package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Repositories and pending stores
// return these (optionally wrapped) so the log manager can translate them into
// its own error taxonomy.
//
// - ErrNotFound: record does not exist in the repository
// - ErrConflict: record already carries the value being written (e.g. a timestamp)
// - ErrInvalidState: record is in the wrong lifecycle state for the operation
// - ErrUnavailable: backing store is temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
