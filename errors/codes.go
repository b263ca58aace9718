package errors

import "github.com/vinayprograms/peerkit/packet"

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: peer link down, request timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed packet, no handler for a destination.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for peer link failures.
const (
	// Transient errors
	ErrCodeTimeout      ErrorCode = "TIMEOUT"       // No reply before the deadline
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"   // Peer answered with a server error
	ErrCodeNetworkErr   ErrorCode = "NETWORK_ERR"   // Transport failed to carry the packet
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED" // Endpoint has no live connection
	ErrCodeClosed       ErrorCode = "CLOSED"        // Endpoint closed while a request was pending

	// Permanent errors
	ErrCodeNoHandler     ErrorCode = "NO_HANDLER"     // No incoming handler installed
	ErrCodeInvalidPacket ErrorCode = "INVALID_PACKET" // Packet failed to decode or validate
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG" // Configuration rejected at construction
	ErrCodeRejected      ErrorCode = "REJECTED"       // Peer replied with a reject
	ErrCodeCanceled      ErrorCode = "CANCELED"       // Caller canceled the operation

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeTimeout, ErrCodeUnavailable, ErrCodeNetworkErr, ErrCodeNotConnected, ErrCodeClosed:
		return CategoryTransient
	case ErrCodeNoHandler, ErrCodeInvalidPacket, ErrCodeInvalidConfig, ErrCodeRejected, ErrCodeCanceled:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeTimeout:       "request timed out",
	ErrCodeUnavailable:   "peer temporarily unavailable",
	ErrCodeNetworkErr:    "network error",
	ErrCodeNotConnected:  "endpoint not connected",
	ErrCodeClosed:        "endpoint closed",
	ErrCodeNoHandler:     "no request handler",
	ErrCodeInvalidPacket: "invalid packet",
	ErrCodeInvalidConfig: "invalid configuration",
	ErrCodeRejected:      "request rejected",
	ErrCodeCanceled:      "operation canceled",
	ErrCodeInternal:      "internal error",
	ErrCodePanic:         "recovered from panic",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}

// RejectCode returns the reject code an endpoint writes back when a local
// failure of this kind has to be reported to the remote peer.
func (c ErrorCode) RejectCode() string {
	switch c {
	case ErrCodeNoHandler:
		return packet.CodeUnreachable
	case ErrCodeInvalidPacket:
		return packet.CodeBadRequest
	case ErrCodeTimeout:
		return packet.CodeTimedOut
	case ErrCodeNetworkErr, ErrCodeNotConnected, ErrCodeClosed, ErrCodeUnavailable:
		return packet.CodePeerUnreachable
	default:
		return packet.CodeInternalError
	}
}
