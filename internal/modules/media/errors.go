package media

import "errors"

// Reason classifies why an upload was refused
type Reason string

const (
	ReasonInvalidFileType  Reason = "invalid_file_type"
	ReasonFileTooLarge     Reason = "file_too_large"
	ReasonDurationRequired Reason = "duration_required"
	ReasonDurationExceeded Reason = "duration_exceeded"
)

// ValidationError is returned for every admission rejection. It matches the
// sentinel of the same Reason under errors.Is.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Reason)
}

// Is matches any ValidationError with the same Reason
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

var (
	ErrInvalidFileType  = &ValidationError{Reason: ReasonInvalidFileType}
	ErrFileTooLarge     = &ValidationError{Reason: ReasonFileTooLarge}
	ErrDurationRequired = &ValidationError{Reason: ReasonDurationRequired}
	ErrDurationExceeded = &ValidationError{Reason: ReasonDurationExceeded}
)

// ErrNoDuration is returned by a Prober when the file carries no usable duration
var ErrNoDuration = errors.New("no duration found")

// AsValidationError unwraps err to a *ValidationError if it is one
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
