package ggwave

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below matches exactly one of these via
// errors.Is.
var (
	ErrInitializationFailed = errors.New("ggwave: initialization failed")
	ErrEncodeFailed         = errors.New("ggwave: encode failed")
	ErrDecodeFailed         = errors.New("ggwave: decode failed")
	ErrInvalidParameter     = errors.New("ggwave: invalid parameter")
	ErrInvalidUTF8          = errors.New("ggwave: decoded payload is not valid UTF-8")
	ErrSessionClosed        = errors.New("ggwave: session is closed")
	ErrBufferTooSmall       = errors.New("ggwave: buffer too small")
	ErrTextTooLong          = errors.New("ggwave: text too long")
	ErrTaskFailed           = errors.New("ggwave: bridge task failed")
)

// InitError reports a negative handle from the native allocator.
type InitError struct {
	Code int
}

func (e *InitError) Error() string {
	return fmt.Sprintf("ggwave: initialization failed (native code %d)", e.Code)
}

func (e *InitError) Is(target error) bool { return target == ErrInitializationFailed }

// EncodeError carries the non-positive result of a size query or fill call.
type EncodeError struct {
	Code int
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ggwave: encode failed (native code %d)", e.Code)
}

func (e *EncodeError) Is(target error) bool { return target == ErrEncodeFailed }

// DecodeError carries a genuine native decode fault. A streaming decode that
// has simply not completed a frame yet is not a DecodeError.
type DecodeError struct {
	Code int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ggwave: decode failed (native code %d)", e.Code)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailed }

// ParameterError is a local validation failure detected before any native
// call.
type ParameterError struct {
	Field  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("ggwave: invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *ParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// BufferTooSmallError is returned when a caller-supplied buffer cannot hold
// the result. Provided is always the length of the caller's buffer.
type BufferTooSmallError struct {
	Required int
	Provided int
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("ggwave: buffer too small: need %d bytes, got %d", e.Required, e.Provided)
}

func (e *BufferTooSmallError) Is(target error) bool { return target == ErrBufferTooSmall }

// TextTooLongError is returned before any native call when a payload exceeds
// the framing-mode maximum.
type TextTooLongError struct {
	Length int
	Max    int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("ggwave: payload of %d bytes exceeds maximum of %d", e.Length, e.Max)
}

func (e *TextTooLongError) Is(target error) bool { return target == ErrTextTooLong }

// TaskError reports a panic recovered on a bridge worker.
type TaskError struct {
	Op    string
	Panic any
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("ggwave: %s: worker panicked: %v", e.Op, e.Panic)
}

func (e *TaskError) Is(target error) bool { return target == ErrTaskFailed }
