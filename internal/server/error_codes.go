package server

const (
	// Validation (1xxx)
	ErrCodeInvalidArgument  = 1000
	ErrCodeInvalidPath      = 1001
	ErrCodeInvalidOwner     = 1002
	ErrCodeInvalidQuery     = 1003
	ErrCodeRequestTooLarge  = 1004
	ErrCodeContentMismatch  = 1005
	ErrCodeUploadAborted    = 1006
	ErrCodeInvalidRange     = 1007
	ErrCodeInvalidAuthToken = 1008
	ErrCodeInvalidHash      = 1009

	// Domain state (2xxx)
	ErrCodeFileNotFound      = 2001
	ErrCodeDirectoryNotFound = 2002
	ErrCodeUserExists        = 2101
	ErrCodeUserNotFound      = 2102

	// Auth & limits (3xxx)
	ErrCodeUnauthorized      = 3001
	ErrCodeForbidden         = 3002
	ErrCodeResourceExhausted = 3003
	ErrCodeSignupRequired    = 3004

	// Internal/system (4xxx)
	ErrCodeInternal       = 4001
	ErrCodeStoreFailure   = 4002
	ErrCodeConsistency    = 4003
	ErrCodeNotImplemented = 4005
)

func defaultErrorCodeByStatus(status int) int {
	switch status {
	case 400:
		return ErrCodeInvalidArgument
	case 401:
		return ErrCodeUnauthorized
	case 403:
		return ErrCodeForbidden
	case 404:
		return ErrCodeFileNotFound
	case 409:
		return ErrCodeUserExists
	case 413:
		return ErrCodeRequestTooLarge
	case 416:
		return ErrCodeInvalidRange
	case 429:
		return ErrCodeResourceExhausted
	case 500:
		return ErrCodeInternal
	case 501:
		return ErrCodeNotImplemented
	default:
		return 0
	}
}
