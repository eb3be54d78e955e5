package model

import "errors"

var (
	// ErrValidation is returned for bad client input.
	ErrValidation = errors.New("validation error")
	// ErrPrecondition is returned when an operation is not yet legal for the
	// current state, e.g. dispatching before the video exists.
	ErrPrecondition = errors.New("precondition failed")
	// ErrState is returned for an illegal state transition.
	ErrState = errors.New("illegal state transition")
	ErrNotFound = errors.New("not found")

	// ErrTransport means the collaborator was unreachable or timed out.
	ErrTransport = errors.New("transport error")
	// ErrChannelRejected means the messaging channel explicitly refused the message.
	ErrChannelRejected = errors.New("rejected by channel")
)
