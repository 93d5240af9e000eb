package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against the typed errors below.
var (
	ErrBrokenReference  = errors.New("broken reference")
	ErrDuplicateAttempt = errors.New("duplicate attempt")
	ErrChannelWrite     = errors.New("channel write failed")
	ErrTranslation      = errors.New("translation failed")
)

// BrokenReferenceError is returned when an upsert names a parent that does
// not exist and cannot be synthesized. The store is left unchanged.
type BrokenReferenceError struct {
	Kind     string // kind of the entity being written
	ID       string
	ParentID string
}

func (e *BrokenReferenceError) Error() string {
	return fmt.Sprintf("%s %q references missing parent %q", e.Kind, e.ID, e.ParentID)
}

// Is matches ErrBrokenReference.
func (e *BrokenReferenceError) Is(target error) bool {
	return target == ErrBrokenReference
}

// DuplicateAttemptError reports that a final attempt was overwritten.
// The write is applied; the error is informational.
type DuplicateAttemptError struct {
	BrowserID string
	Attempt   int
	Previous  TestStatus
	Next      TestStatus
}

func (e *DuplicateAttemptError) Error() string {
	return fmt.Sprintf("attempt %d of %q already final (%s), overwritten with %s",
		e.Attempt, e.BrowserID, e.Previous, e.Next)
}

// Is matches ErrDuplicateAttempt.
func (e *DuplicateAttemptError) Is(target error) bool {
	return target == ErrDuplicateAttempt
}

// ChannelWriteError is raised when a frame cannot be delivered to one
// connection. Only that connection is dropped.
type ChannelWriteError struct {
	ConnID string
	Event  EventName
	Err    error
}

func (e *ChannelWriteError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("connection %s: %v", e.ConnID, e.Err)
	}
	return fmt.Sprintf("connection %s: write %s: %v", e.ConnID, e.Event, e.Err)
}

func (e *ChannelWriteError) Unwrap() error { return e.Err }

// Is matches ErrChannelWrite.
func (e *ChannelWriteError) Is(target error) bool {
	return target == ErrChannelWrite
}

// TranslationError is returned when a runner notification cannot be mapped
// to a canonical event. The notification is dropped.
type TranslationError struct {
	Notification string
	Reason       string
	Err          error
}

func (e *TranslationError) Error() string {
	msg := fmt.Sprintf("translate %q: %s", e.Notification, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Is matches ErrTranslation.
func (e *TranslationError) Is(target error) bool {
	return target == ErrTranslation
}
