// Package apperr carries the error kinds that cross component boundaries.
// Kinds are mapped to HTTP status codes only by the webserver.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidToken
	KindExpiredToken
	KindNotFound
	KindConflict
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "expired_token"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrInvalidToken = &Error{Kind: KindInvalidToken}
	ErrExpiredToken = &Error{Kind: KindExpiredToken}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrUpstream     = &Error{Kind: KindUpstream}
)

type Error struct {
	Kind         Kind
	Op           string
	Collaborator string
	SubmissionID string
	Msg          string
	Err          error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 4)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Collaborator != "" {
		parts = append(parts, e.Collaborator)
	}
	if e.SubmissionID != "" {
		parts = append(parts, "submission "+e.SubmissionID)
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(parts) == 0 {
		return msg
	}
	return strings.Join(parts, ": ") + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind so errors.Is(err, ErrNotFound) works on any
// wrapped not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Collaborator == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func InvalidToken(err error) error {
	return &Error{Kind: KindInvalidToken, Op: "token", Msg: "invalid token", Err: err}
}

func ExpiredToken(err error) error {
	return &Error{Kind: KindExpiredToken, Op: "token", Msg: "token expired", Err: err}
}

func NotFound(submissionID string) error {
	return &Error{Kind: KindNotFound, SubmissionID: submissionID, Msg: "submission not found"}
}

func Conflict(submissionID, msg string) error {
	return &Error{Kind: KindConflict, SubmissionID: submissionID, Msg: msg}
}

// Upstream wraps a failure of an external collaborator (redis, s3, discord,
// mysql). It returns nil when err is nil.
func Upstream(op, collaborator, submissionID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUpstream, Op: op, Collaborator: collaborator, SubmissionID: submissionID, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CollaboratorOf returns the failing collaborator recorded in err, if any.
func CollaboratorOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Collaborator
	}
	return ""
}

func HTTPStatus(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidToken:
		return http.StatusUnauthorized
	case KindExpiredToken:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a client for err.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal server error"
	}
	switch e.Kind {
	case KindValidation, KindConflict:
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	case KindInvalidToken:
		return "invalid token"
	case KindExpiredToken:
		return "token expired"
	case KindNotFound:
		return "submission not found"
	default:
		return "internal server error"
	}
}
