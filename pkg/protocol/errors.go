package protocol

import "errors"

// Error codes reported to embedding applications.
const (
	ErrCodeNotPaired       = "NotPaired"
	ErrCodeAlreadyPaired   = "AlreadyPaired"
	ErrCodeMissingChildID  = "MissingChildId"
	ErrCodeNotAuthorised   = "NotAuthorised"
	ErrCodeInvalidResponse = "InvalidResponse"
	ErrCodeNoConnection    = "NoConnection"
)

var (
	// ErrNotPaired is returned by operations that need pairing credentials.
	ErrNotPaired = errors.New(ErrCodeNotPaired)

	// ErrAlreadyPaired is returned by pair when credentials already exist.
	ErrAlreadyPaired = errors.New(ErrCodeAlreadyPaired)

	// ErrMissingChildID is returned when no child was given and the device is not bound to one.
	ErrMissingChildID = errors.New(ErrCodeMissingChildID)

	// ErrNotAuthorised is returned when the server rejects the supplied account credentials.
	ErrNotAuthorised = errors.New(ErrCodeNotAuthorised)

	// ErrInvalidResponse is returned for payloads that lack required fields or report failure.
	ErrInvalidResponse = errors.New(ErrCodeInvalidResponse)

	// ErrNoConnection wraps transport failures and non-success HTTP statuses.
	ErrNoConnection = errors.New(ErrCodeNoConnection)
)

// ServerError carries an application error message supplied by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }
