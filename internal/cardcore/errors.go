package cardcore

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names the operation that failed, not the underlying cause.
type ErrorKind string

const (
	KindConnect               ErrorKind = "Connect"
	KindDisconnect            ErrorKind = "Disconnect"
	KindTransmit              ErrorKind = "Transmit"
	KindControl               ErrorKind = "Control"
	KindLoadAuthenticationKey ErrorKind = "LoadAuthenticationKey"
	KindAuthentication        ErrorKind = "Authentication"
	KindRead                  ErrorKind = "Read"
	KindWrite                 ErrorKind = "Write"
	KindGetUID                ErrorKind = "GetUID"
)

// ErrorCode is a short machine-checkable reason within a Kind.
type ErrorCode string

const (
	CodeFailure           ErrorCode = "failure"
	CodeCardNotConnected  ErrorCode = "card_not_connected"
	CodeOperationFailed   ErrorCode = "operation_failed"
	CodeInvalidKey        ErrorCode = "invalid_key"
	CodeInvalidKeyNumber  ErrorCode = "invalid_key_number"
	CodeInvalidDataLength ErrorCode = "invalid_data_length"
	CodeInvalidMode       ErrorCode = "invalid_mode"
	CodeNotConnected      ErrorCode = "not_connected"
	CodeInvalidResponse   ErrorCode = "invalid_response"
	CodeUnableToLoadKey   ErrorCode = "unable_to_load_key"
	CodeUnknownError      ErrorCode = "unknown_error"
)

// CardError is the single error type used across the reader pipeline. It
// carries the failing Kind, an optional Code, a human Message, and an
// optional wrapped cause.
type CardError struct {
	Kind    ErrorKind
	Code    ErrorCode
	Message string
	Err     error
}

func (e *CardError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Code != "" {
		sb.WriteString("/")
		sb.WriteString(string(e.Code))
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *CardError) Unwrap() error {
	return e.Err
}

// Is reports equality by Kind and Code, ignoring Message/Err, so callers
// can match with errors.Is against a bare &CardError{Kind: ..., Code: ...}.
func (e *CardError) Is(target error) bool {
	t, ok := target.(*CardError)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

func newError(kind ErrorKind, code ErrorCode, message string, cause error) *CardError {
	return &CardError{Kind: kind, Code: code, Message: message, Err: cause}
}

func NewConnectError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindConnect, code, message, cause)
}

func NewDisconnectError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindDisconnect, code, message, cause)
}

func NewTransmitError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindTransmit, code, message, cause)
}

func NewControlError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindControl, code, message, cause)
}

func NewLoadAuthenticationKeyError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindLoadAuthenticationKey, code, message, cause)
}

func NewAuthenticationError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindAuthentication, code, message, cause)
}

func NewReadError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindRead, code, message, cause)
}

func NewWriteError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindWrite, code, message, cause)
}

func NewGetUIDError(code ErrorCode, message string, cause error) *CardError {
	return newError(KindGetUID, code, message, cause)
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *CardError.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CardError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *CardError.
func CodeOf(err error) (ErrorCode, bool) {
	var ce *CardError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return "", false
}

// StatusWordMessage formats a non-success status word for embedding in a
// CardError's Message, e.g. "unexpected status word 6A82".
func StatusWordMessage(sw uint16) string {
	return fmt.Sprintf("unexpected status word %04X", sw)
}
