package core

import (
	"errors"
	"fmt"
)

// Apartment lifecycle errors
var (
	ErrAlreadyRegistered = errors.New("thread already hosts an apartment")
	ErrApartmentGone     = errors.New("apartment has been torn down")
	ErrNoThread          = errors.New("context carries no thread")
	ErrNoApartment       = errors.New("thread does not host an apartment")
	ErrWrongThread       = errors.New("apartment can only be pumped by its owning thread")
	ErrInboxFull         = errors.New("apartment inbox is full")
	ErrRuntimeClosed     = errors.New("runtime is shut down")
)

// Call errors
var (
	ErrCallTimedOut       = errors.New("call timed out")
	ErrReentrancyDeadlock = errors.New("call would deadlock: target apartment is not pumping")
	ErrUnknownMethod      = errors.New("unknown method")
	ErrMethodPanic        = errors.New("method panicked")
)

// Agile reference errors
var (
	ErrStaleReference = errors.New("stale agile reference")
	ErrTooManyHandles = errors.New("agile reference table is full")
	ErrInvalidHandle  = errors.New("invalid agile handle")
	ErrUnclassified   = errors.New("object has no classification")
	ErrNilCapability  = errors.New("capability cannot be nil")
)

// CallError describes a failed operation against an apartment or object.
type CallError struct {
	Op        string
	Apartment ApartmentID
	Object    ObjectID
	Method    MethodID
	Err       error
}

func (e *CallError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("%s %s on object %d (apartment %d): %v", e.Op, e.Method, e.Object, e.Apartment, e.Err)
	}
	if e.Object != 0 {
		return fmt.Sprintf("%s object %d (apartment %d): %v", e.Op, e.Object, e.Apartment, e.Err)
	}
	return fmt.Sprintf("%s apartment %d: %v", e.Op, e.Apartment, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
