package core

import (
	"errors"

	"github.com/husbylabs/warptables/internal/proto"
)

// Error codes for domain errors. They double as wire error codes.
const (
	ErrCodeUnknownClient = proto.CodeUnknownClient
	ErrCodeBadRequest    = proto.CodeBadRequest
	ErrCodeInternal      = proto.CodeInternal
)

var (
	ErrUnknownClient = errors.New("unknown client")
	ErrBadRequest    = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

func coreError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}
