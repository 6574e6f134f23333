// Package hcerr defines the stable error kinds used across the client.
package hcerr

import (
	"context"
	"errors"
	"fmt"
)

// Stage identifies which step of the protocol stack produced the error.
type Stage string

const (
	StageConnect   Stage = "connect"
	StageHandshake Stage = "handshake"
	StageSend      Stage = "send"
	StageDecode    Stage = "decode"
	StageEntity    Stage = "entity"
	StageClose     Stage = "close"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeTimeout           Code = "timeout"
	CodeCanceled          Code = "canceled"
	CodeNotConnected      Code = "not_connected"
	CodeProtocolError     Code = "protocol_error"
	CodeRemoteError       Code = "remote_error"
	CodeHandshakeFailure  Code = "handshake_failure"
	CodeInvalidPayload    Code = "invalid_payload"
	CodeUnknownEntity     Code = "unknown_entity"
	CodeUnknownService    Code = "unknown_service"
	CodeDialFailed        Code = "dial_failed"
	CodeUpgradeFailed     Code = "upgrade_failed"
	CodeWriteOnlyOrLocked Code = "write_not_permitted"
)

// Error is a structured, programmatically identifiable error.
//
// Mirrors the stage/code/wrapped-error shape used throughout this codebase's
// ancestry: a stable Code a caller can switch on, plus the concrete Err for
// human consumption and errors.Is/As chaining.
type Error struct {
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error for the given stage/code.
func Wrap(stage Stage, code Code, err error) error {
	return &Error{Stage: stage, Code: code, Err: err}
}

// ClassifyConnectCode maps a connect-layer error to a stable Code.
func ClassifyConnectCode(err error) Code {
	return classifyContextCode(err, CodeDialFailed)
}

// ClassifyHandshakeCode maps a handshake-layer error to a stable Code.
func ClassifyHandshakeCode(err error) Code {
	return classifyContextCode(err, CodeHandshakeFailure)
}

func classifyContextCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return fallback
	}
}

// RemoteError reports a RESPONSE carrying a code (any code, including 0).
type RemoteError struct {
	Code     int32
	Resource string
}

func (e *RemoteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("remote error %d on %s", e.Code, e.Resource)
}

// NotConnectedError distinguishes the three NotConnected triggers named in the
// spec (not yet connected, response timeout, closed socket) while still
// satisfying errors.Is(err, ErrNotConnected).
type NotConnectedError struct {
	Reason string
	Err    error
}

func (e *NotConnectedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("not connected (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("not connected (%s)", e.Reason)
}

func (e *NotConnectedError) Unwrap() error { return e.Err }

func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}

// ErrNotConnected is the sentinel matched by errors.Is against any NotConnectedError.
var ErrNotConnected = errors.New("not connected")

// InvalidPayloadError reports a missing/wrong argument in a high-level entity operation.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "invalid service payload: " + e.Reason
}

// UnknownEntityError reports dispatch to a non-existent entity.
type UnknownEntityError struct {
	UID  uint32
	Name string
}

func (e *UnknownEntityError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Name != "" {
		return fmt.Sprintf("unknown entity %q", e.Name)
	}
	return fmt.Sprintf("unknown entity uid=0x%x", e.UID)
}
