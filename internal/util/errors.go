package util

import "errors"

var (
	ErrTeacherNotFound    = errors.New("teacher not found")
	ErrTeacherInactive    = errors.New("user not found or account is inactive")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrScenarioNotFound   = errors.New("scenario not found")
	ErrInvalidScore       = errors.New("score must be between 0 and 100")
	ErrAttemptConflict    = errors.New("attempt number already taken, retry the submission")
	ErrSubmissionInFlight = errors.New("another submission for this scenario is in progress")
	ErrAuthNotConfigured  = errors.New("login is not configured")
)
