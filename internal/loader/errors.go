package loader

import (
	"errors"
	"fmt"
)

type FailureKind int

const (
	FailureTransport FailureKind = iota + 1
	FailureClassification
	FailureDecode
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureClassification:
		return "classification"
	case FailureDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// LoadError records which stage of a load failed.
type LoadError struct {
	ID   string
	Kind FailureKind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %s failure: %v", e.ID, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Failure returns the failure kind carried by err, or 0.
func Failure(err error) FailureKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
