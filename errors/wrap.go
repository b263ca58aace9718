package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinayprograms/peerkit/packet"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a PeerError, the wrapper keeps its code and category.
// Context errors map to TIMEOUT and CANCELED; anything else becomes INTERNAL.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var peerErr *Error
	if errors.As(err, &peerErr) {
		wrapped := &Error{
			code:        peerErr.code,
			category:    peerErr.category,
			message:     message,
			cause:       err,
			metadata:    peerErr.Metadata(),
			retryable:   peerErr.retryable,
			timestamp:   peerErr.timestamp,
			peerID:      peerErr.peerID,
			destination: peerErr.destination,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsPeerError extracts a PeerError from an error chain, or nil.
func AsPeerError(err error) PeerError {
	var peerErr *Error
	if errors.As(err, &peerErr) {
		return peerErr
	}
	return nil
}

// Is checks if the outermost PeerError in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	var peerErr *Error
	if errors.As(err, &peerErr) {
		return peerErr.code == code
	}
	return false
}

// IsRetryable checks if the error is retryable.
// Errors that are not PeerErrors are not retryable.
func IsRetryable(err error) bool {
	var peerErr *Error
	if errors.As(err, &peerErr) {
		return peerErr.Retryable()
	}
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return Category(err) == CategoryTransient
}

// Code extracts the error code from an error, or "" if it has none.
func Code(err error) ErrorCode {
	var peerErr *Error
	if errors.As(err, &peerErr) {
		return peerErr.code
	}
	return ""
}

// Category extracts the error category from an error, or "" if it has none.
func Category(err error) ErrorCategory {
	var peerErr *Error
	if errors.As(err, &peerErr) {
		return peerErr.category
	}
	return ""
}

// ILPCode maps an error to a reject code. Context errors and untyped
// errors are classified the same way Wrap classifies them.
func ILPCode(err error) string {
	if err == nil {
		return ""
	}
	code := Code(err)
	if code == "" {
		code = Wrap(err, "").code
	}
	return code.RejectCode()
}

// ToReject converts a local failure into the reject returned to the
// remote peer. A reject already in the chain is returned as is.
func ToReject(err error, triggeredBy string) *packet.Reject {
	if err == nil {
		return nil
	}
	var rj *packet.Reject
	if errors.As(err, &rj) {
		return rj
	}
	return packet.NewReject(ILPCode(err), err.Error(), triggeredBy)
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
