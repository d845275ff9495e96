package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Capability errors: local media could not be acquired
	ErrCodeCapability       ErrorCode = "CAPABILITY_ERROR"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Transport errors: sends and subscriptions against the event stream
	ErrCodeTransport   ErrorCode = "TRANSPORT_ERROR"
	ErrCodeSendFailed  ErrorCode = "SEND_FAILED"
	ErrCodeSubLost     ErrorCode = "SUBSCRIPTION_LOST"
	ErrCodeSubExhaust  ErrorCode = "SUBSCRIPTION_EXHAUSTED"
	ErrCodeNotConnect  ErrorCode = "NOT_CONNECTED"

	// Protocol errors: malformed or unexpected signaling traffic
	ErrCodeProtocol    ErrorCode = "PROTOCOL_ERROR"
	ErrCodeMalformed   ErrorCode = "MALFORMED_PAYLOAD"
	ErrCodeStaleSignal ErrorCode = "STALE_SIGNAL"

	// State errors: invalid lifecycle transitions requested by callers
	ErrCodeState          ErrorCode = "STATE_ERROR"
	ErrCodeCallInProgress ErrorCode = "CALL_IN_PROGRESS"
	ErrCodeCallNotFound   ErrorCode = "CALL_NOT_FOUND"
	ErrCodeCallCanceled   ErrorCode = "CALL_CANCELED"

	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured application error with a code and optional cause
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the original error
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Capability errors
func CapabilityError(message string, err error) *AppError {
	return Wrap(ErrCodeCapability, message, err)
}

func PermissionDeniedError(message string) *AppError {
	return New(ErrCodePermissionDenied, message)
}

// Transport errors
func TransportError(message string, err error) *AppError {
	return Wrap(ErrCodeTransport, message, err)
}

func SendFailedError(err error) *AppError {
	return Wrap(ErrCodeSendFailed, "failed to send message", err)
}

func SubscriptionExhaustedError(topic string) *AppError {
	return New(ErrCodeSubExhaust, fmt.Sprintf("subscription to %q gave up after repeated failures", topic))
}

func NotConnectedError() *AppError {
	return New(ErrCodeNotConnect, "transport is not connected")
}

// Protocol errors
func MalformedPayloadError(err error) *AppError {
	return Wrap(ErrCodeMalformed, "payload failed to decode", err)
}

func StaleSignalError(callID string) *AppError {
	return New(ErrCodeStaleSignal, fmt.Sprintf("signal for inactive call %s", callID))
}

// State errors
func StateError(message string) *AppError {
	return New(ErrCodeState, message)
}

func CallInProgressError() *AppError {
	return New(ErrCodeCallInProgress, "another call is already active")
}

func CallNotFoundError() *AppError {
	return New(ErrCodeCallNotFound, "no active call")
}

func CallCanceledError() *AppError {
	return New(ErrCodeCallCanceled, "call was canceled before it was established")
}

func NotificationNotFoundError(id fmt.Stringer) *AppError {
	return New(ErrCodeNotificationNotFound, fmt.Sprintf("notification %s not found", id))
}

func InternalError(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// HasCode reports whether err carries the given application error code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts AppError from an error, wrapping other errors as internal
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(ErrCodeInternal, "unexpected error", err)
}
