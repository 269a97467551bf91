package convsync

import (
	"errors"
	"fmt"
)

// ErrTransient marks poll and fetch failures. They are retried by the next
// tick and never shown to the operator.
var ErrTransient = errors.New("transient network error")

var (
	ErrUnknownMessage = errors.New("message not found")
	ErrNotRetryable   = errors.New("message is not failed")
	ErrNotDiscardable = errors.New("message is already confirmed")
	ErrNoConversation = errors.New("no conversation open")
	ErrSessionStopped = errors.New("session stopped")
)

// FetchError wraps a failed fetch. It matches ErrTransient.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// SendFailure is the error attached to a message whose send failed.
type SendFailure struct {
	ConversationID string
	LocalID        string
	Err            error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send %s in %s: %v", e.LocalID, e.ConversationID, e.Err)
}

func (e *SendFailure) Unwrap() error {
	return e.Err
}
