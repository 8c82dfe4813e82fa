package model

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide how far an error travels.
type Kind uint8

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindTransport
	KindNotFound
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrTransport     = &Error{Kind: KindTransport}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrStore         = &Error{Kind: KindStore}
)

// Error is the domain error carried across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func Validation(op, msg string) error { return &Error{Kind: KindValidation, Op: op, Msg: msg} }

func Unauthorized(op, msg string) error { return &Error{Kind: KindAuthorization, Op: op, Msg: msg} }

func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, KindTransport) {
		return err
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func NotFound(op, what string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: what + " not found"}
}

func StoreFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// UserMessage renders err for the chat. Each text tells the user what to do next.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if !errors.As(err, &de) {
		return "Something went wrong. Please try again later or /cancel."
	}
	switch de.Kind {
	case KindValidation:
		if de.Msg != "" {
			return de.Msg
		}
		return "Invalid input. Please try again or /cancel."
	case KindAuthorization:
		if de.Msg != "" {
			return de.Msg
		}
		return "Your token is invalid. Please /activate a new one."
	case KindTransport:
		return "The account could not be reached. Please remove it and /add_account again."
	case KindNotFound:
		return fmt.Sprintf("%s. Please start over.", capitalize(de.Msg))
	default:
		return "Storage is unavailable right now. Please try again later."
	}
}

func capitalize(s string) string {
	if s == "" {
		return "Not found"
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
