package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and external collaborator
// clients return these (optionally wrapped) so services can translate them
// into coded domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store or directory
// - ErrConflict: a competing record already holds the slot
// - ErrExpired: cached entry past its retention window
// - ErrInvalidState: entity in wrong state for the requested operation
// - ErrUnavailable: collaborator temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
