package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, machine-readable category of a pipeline failure.
type ErrorKind string

const (
	KindInvalidService ErrorKind = "InvalidService"
	KindSaveFailed     ErrorKind = "SaveFailed"
	KindTooLarge       ErrorKind = "TooLarge"
	KindTooManyPages   ErrorKind = "TooManyPages"
	KindSanitizeFailed ErrorKind = "SanitizeFailed"
	KindUploadFailed   ErrorKind = "UploadFailed"
	KindCleanupFailed  ErrorKind = "CleanupFailed"
)

// ErrInvalidService is returned by UploadOrchestrator.Handle for a service id
// that is not in the registry. It is the only failure that escapes the
// ok:false response shape.
var ErrInvalidService = &PipelineError{Kind: KindInvalidService, Err: errors.New("Invalid service id")}

// PipelineError tags an error with the stage that produced it.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	return e.Err.Error()
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func newPipelineError(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first PipelineError in err's chain, or
// an empty kind when there is none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
