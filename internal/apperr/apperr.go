// Package apperr is the error contract shared by adapters, the turn
// orchestrator and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidArgument        Code = "invalid_argument"
	CodeNotFound               Code = "not_found"
	CodeConflict               Code = "conflict"
	CodeConfiguration          Code = "configuration"
	CodeProvider               Code = "provider"
	CodeTTSFailed              Code = "tts_failed"
	CodeTTSInsufficientPermits Code = "tts_insufficient_permissions"
	CodeInternal               Code = "internal"
)

type Error struct {
	Code    Code
	Op      string // e.g. "tts.Synthesize"
	Message string // safe to show to callers
	Err     error
	// Tried lists voice identifiers attempted by the TTS adapter.
	Tried []string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func E(code Code, op, msg string, err error) error {
	return &Error{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf reports the code of the outermost *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// TriedOf returns the attempted voice list carried by err, if any.
func TriedOf(err error) []string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Tried
	}
	return nil
}

func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTTSFailed, CodeTTSInsufficientPermits:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides provider and internal detail from HTTP callers.
func PublicMessage(err error) string {
	var ae *Error
	if !errors.As(err, &ae) {
		return "internal error"
	}
	switch ae.Code {
	case CodeProvider, CodeInternal:
		return "internal error"
	}
	if ae.Message != "" {
		return ae.Message
	}
	return string(ae.Code)
}
