package chat

import (
	"errors"
	"fmt"
)

// Kind classifies failures of chat operations.
type Kind int

const (
	// KindValidation is a malformed or incomplete request. Nothing was mutated.
	KindValidation Kind = iota + 1
	// KindNotFound is a missing user or conversation.
	KindNotFound
	// KindConflict is a request contradicting existing state: conversation with
	// self or a duplicate conversation.
	KindConflict
	// KindIdSpaceExhausted means conversation id allocation gave up.
	KindIdSpaceExhausted
	// KindStorage is a failure of the underlying store. Not retried.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindIdSpaceExhausted:
		return "id space exhausted"
	case KindStorage:
		return "storage"
	}
	return "unknown"
}

// Error is returned by all chat operations.
type Error struct {
	Kind Kind
	Msg  string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind and message, so the sentinels below work
// with errors.Is even after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Msg == "" || e.Msg == t.Msg)
}

var (
	// ErrSelfConversation is returned when a user attempts to talk to themselves.
	ErrSelfConversation = &Error{Kind: KindConflict, Msg: "user tried to talk to themselves"}
	// ErrAlreadyExists is returned when creating a conversation which already exists.
	ErrAlreadyExists = &Error{Kind: KindConflict, Msg: "chatroom already exists"}
	// ErrUserNotFound is returned when the user is not registered.
	ErrUserNotFound = &Error{Kind: KindNotFound, Msg: "user does not exist"}
	// ErrConversationNotFound is returned when two users have no conversation.
	ErrConversationNotFound = &Error{Kind: KindNotFound, Msg: "chatroom does not exist"}
	// ErrIdSpaceExhausted is returned when no free conversation id was found.
	ErrIdSpaceExhausted = &Error{Kind: KindIdSpaceExhausted, Msg: "failed to allocate chatroom id"}
)

// errValidation creates a validation error.
func errValidation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// errStorage wraps a store failure.
func errStorage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Msg: op + " failed", Err: err}
}

// errWithDetail returns a copy of the sentinel with context appended, still matching it
// by kind.
func errWithDetail(sentinel *Error, detail string) *Error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: errors.New(detail)}
}

// KindOf returns the kind of the chat error or 0 if err is not a chat error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsValidation checks if err is a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
