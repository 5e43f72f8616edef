package models

import "errors"

// Sentinel errors returned by the service layer. Handlers map these onto
// HTTP status codes with errors.Is.
var (
	// ErrForbidden indicates the caller is authenticated but not allowed
	// to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the operation collides with existing state,
	// such as a duplicate assignment or a live invitation.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates the request payload failed validation.
	ErrValidation = errors.New("validation failed")
)
