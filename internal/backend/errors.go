package backend

import (
	"errors"
	"fmt"
)

// Code is a backend result code. Both backends report through the same set.
type Code int

const (
	CodeSuccess Code = iota
	CodeInvalidUser
	CodeNotLinked
	CodeInvalidCredentials
	CodeCanceled
	CodeNotFound
	CodePresenceLobbyExists
	CodeAlreadyMember
	CodeLobbyFull
	CodeNotOwner
	CodeInvalidParameters
	CodeNoConnection
	CodeTimedOut
	CodeUnknown
)

var codeNames = map[Code]string{
	CodeSuccess:             "success",
	CodeInvalidUser:         "invalid_user",
	CodeNotLinked:           "external_auth_not_linked",
	CodeInvalidCredentials:  "invalid_credentials",
	CodeCanceled:            "canceled",
	CodeNotFound:            "not_found",
	CodePresenceLobbyExists: "presence_lobby_exists",
	CodeAlreadyMember:       "already_member",
	CodeLobbyFull:           "lobby_full",
	CodeNotOwner:            "not_owner",
	CodeInvalidParameters:   "invalid_parameters",
	CodeNoConnection:        "no_connection",
	CodeTimedOut:            "timed_out",
	CodeUnknown:             "unknown",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Unavailable reports whether the code means the backend could not be reached.
func (c Code) Unavailable() bool {
	return c == CodeNoConnection || c == CodeTimedOut
}

// Error is a failed backend call.
type Error struct {
	Op   string
	Code Code
	// ContinuationToken is set on CodeInvalidUser / CodeNotLinked login failures.
	ContinuationToken ContinuationToken
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// Fail builds a backend error for op.
func Fail(op string, code Code) *Error {
	return &Error{Op: op, Code: code}
}

// CodeOf extracts the result code from err. nil maps to CodeSuccess and any
// error that is not a backend error maps to CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return CodeUnknown
}

// TokenOf returns the continuation token carried by err, if any.
func TokenOf(err error) (ContinuationToken, bool) {
	var be *Error
	if errors.As(err, &be) && be.ContinuationToken != "" {
		return be.ContinuationToken, true
	}
	return "", false
}
