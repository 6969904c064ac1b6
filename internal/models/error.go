package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Policy denials, surfaced to the calling flow as structured reasons
	ErrAccountLocked       = errors.New("account is temporarily locked")
	ErrSelfActionForbidden = errors.New("administrators cannot perform this action on their own account")

	// Emergency access
	ErrSecondFactorNotEnabled = errors.New("account has no second factor enabled")

	// Alert lifecycle
	ErrAlertNotActive = errors.New("alert is not active")
)
