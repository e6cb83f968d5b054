package lifecycle

import (
	"errors"
	"fmt"

	"github.com/shrimpsizemoose/semla/internal/models"
)

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrGradeOutOfRange   = errors.New("grade out of range")
	ErrNotGradable       = errors.New("learning object is not gradable")
	ErrHashMismatch      = errors.New("submission hash mismatch")
	// ErrGradebookSync means the submission was saved but the gradebook
	// could not be brought up to date.
	ErrGradebookSync = errors.New("gradebook sync failed")
)

func illegal(from, to models.Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

type FailureKind int

const (
	ConnectionFailure FailureKind = iota
	ServerFailure
	ContentRejected
)

func (k FailureKind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection"
	case ServerFailure:
		return "server"
	case ContentRejected:
		return "rejected"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

func ParseFailureKind(s string) (FailureKind, error) {
	switch s {
	case "connection":
		return ConnectionFailure, nil
	case "server":
		return ServerFailure, nil
	case "rejected":
		return ContentRejected, nil
	}
	return 0, fmt.Errorf("unknown failure kind %q", s)
}

// GradingError is a failure reported by the grading backend instead of a result.
type GradingError struct {
	Kind FailureKind
	Err  error
}

func (e *GradingError) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " failure"
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *GradingError) Unwrap() error {
	return e.Err
}

// Status is where the failure leaves the submission.
func (e *GradingError) Status() models.Status {
	if e.Kind == ContentRejected {
		return models.StatusRejected
	}
	return models.StatusError
}
