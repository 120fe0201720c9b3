package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindComputation ErrorKind = "computation"
	KindDataLoad    ErrorKind = "data_load"
	KindTraining    ErrorKind = "training"
	KindPrediction  ErrorKind = "prediction"
)

// Error is the typed failure returned by every engine component.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Public reports whether the message may be shown to callers verbatim.
// Input and formula failures are; data, training and model failures are not.
func (k ErrorKind) Public() bool {
	return k == KindValidation || k == KindComputation
}

func NewValidationError(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NewComputationError(msg string) error {
	return &Error{Kind: KindComputation, Message: msg}
}

func NewDataLoadError(msg string, err error) error {
	return &Error{Kind: KindDataLoad, Message: msg, Err: err}
}

func NewTrainingError(msg string, err error) error {
	return &Error{Kind: KindTraining, Message: msg, Err: err}
}

func NewPredictionError(msg string, err error) error {
	return &Error{Kind: KindPrediction, Message: msg, Err: err}
}

// KindOf extracts the kind of an engine error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// MessageOf returns the engine message of err, or err.Error() for foreign
// errors.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
