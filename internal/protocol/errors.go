package protocol

import (
	"errors"
	"fmt"
)

const (
	// Transport could not be opened, or the peer went away.
	ErrCodeConnection = "E_CONNECTION"

	// Blocking points.
	ErrCodeHandshakeTimeout = "E_HANDSHAKE_TIMEOUT"
	ErrCodeStepTimeout      = "E_STEP_TIMEOUT"

	// Malformed or out-of-order message.
	ErrCodeProtocol = "E_PROTOCOL"

	// Frame capture/encoding failed.
	ErrCodeCapture = "E_CAPTURE"

	// Reply could not be written.
	ErrCodeSend = "E_SEND"
)

var knownCodes = map[string]struct{}{
	ErrCodeConnection:       {},
	ErrCodeHandshakeTimeout: {},
	ErrCodeStepTimeout:      {},
	ErrCodeProtocol:         {},
	ErrCodeCapture:          {},
	ErrCodeSend:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a session-fatal bridge failure. Errors compare equal under errors.Is
// when their codes match, so the sentinels below can be used as kinds.
type Error struct {
	Code string
	Op   string
	Err  error
}

var (
	ErrConnection       = &Error{Code: ErrCodeConnection}
	ErrHandshakeTimeout = &Error{Code: ErrCodeHandshakeTimeout}
	ErrStepTimeout      = &Error{Code: ErrCodeStepTimeout}
	ErrProtocol         = &Error{Code: ErrCodeProtocol}
	ErrCapture          = &Error{Code: ErrCodeCapture}
	ErrSend             = &Error{Code: ErrCodeSend}
)

func (e *Error) Error() string {
	msg := e.Code
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an Error of the given code.
func NewError(code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Errorf builds an Error of the given code with a formatted cause.
func Errorf(code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
