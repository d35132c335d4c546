package service

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrNotOwed means the login is not waiting at the MFA stage. The user
	// belongs back at the login endpoint.
	ErrNotOwed = errors.New("mfa stage not owed")

	// ErrNoSubmission is returned for a submit carrying neither a code nor
	// a credential.
	ErrNoSubmission = errors.New("no code or credential submitted")

	// ErrNoFactors is returned when none of the user's factors is accepted
	// by this deployment, at the MFA stage or at step-up.
	ErrNoFactors = errors.New("no usable second factor")

	ErrInvalidSession = errors.New("invalid session")
	ErrInvalidLogin   = errors.New("invalid login reference")
)
