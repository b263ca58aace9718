// Package packet defines the request and reply packets exchanged between peers.
//
// Every exchange is one Prepare answered by exactly one Reply, which is
// either a Fulfill (success) or a Reject (failure).
package packet

import (
	"errors"
	"fmt"
	"time"
)

// HeartbeatDestination is the well-known liveness address of a peer.
const HeartbeatDestination = "peer.heartbeat"

// ConditionSize is the length of an execution condition in bytes.
const ConditionSize = 32

// Reject codes used by this module.
const (
	CodeInternalError   = "T00" // handler failed on the receiving side
	CodePeerUnreachable = "T01" // transport could not reach the peer
	CodeUnreachable     = "F02" // no handler for the destination
	CodeBadRequest      = "F01" // malformed request
	CodeTimedOut        = "R00" // request expired before a reply
)

// Common errors.
var (
	ErrMissingDestination = errors.New("missing destination")
	ErrInvalidAmount      = errors.New("amount must be an unsigned decimal")
	ErrInvalidCondition   = errors.New("execution condition must be 32 bytes")
)

// Prepare is a request sent to a peer.
type Prepare struct {
	// Destination is the address the request is routed to.
	Destination string `json:"destination" msgpack:"destination"`

	// Amount is an unsigned decimal string.
	Amount string `json:"amount" msgpack:"amount"`

	// ExecutionCondition is a 32-byte condition the reply must satisfy.
	ExecutionCondition []byte `json:"execution_condition" msgpack:"execution_condition"`

	// ExpiresAt is the absolute time after which the request is void.
	ExpiresAt time.Time `json:"expires_at" msgpack:"expires_at"`

	// Data is an opaque payload, commonly empty.
	Data []byte `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Validate checks that the prepare is well formed.
func (p *Prepare) Validate() error {
	if p.Destination == "" {
		return ErrMissingDestination
	}
	if p.Amount == "" {
		return ErrInvalidAmount
	}
	for _, c := range p.Amount {
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidAmount, p.Amount)
		}
	}
	if len(p.ExecutionCondition) != ConditionSize {
		return ErrInvalidCondition
	}
	return nil
}

// IsHeartbeat reports whether the prepare targets the liveness address.
func (p *Prepare) IsHeartbeat() bool {
	return p != nil && p.Destination == HeartbeatDestination
}

// Kind identifies a reply variant.
type Kind string

const (
	KindFulfill Kind = "fulfill"
	KindReject  Kind = "reject"
)

// Reply is the answer to a Prepare. It is implemented by *Fulfill and
// *Reject only.
type Reply interface {
	Kind() Kind
	reply()
}

// Fulfill is a successful reply.
type Fulfill struct {
	Fulfillment []byte `json:"fulfillment" msgpack:"fulfillment"`
	Data        []byte `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Kind implements Reply.
func (*Fulfill) Kind() Kind { return KindFulfill }
func (*Fulfill) reply()     {}

// Reject is a failed reply.
type Reject struct {
	// Code is a three character error code, e.g. "T01".
	Code string `json:"code" msgpack:"code"`

	// Message is a human readable reason.
	Message string `json:"message" msgpack:"message"`

	// TriggeredBy identifies the node that produced the reject.
	TriggeredBy string `json:"triggered_by" msgpack:"triggered_by"`

	Data []byte `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Kind implements Reply.
func (*Reject) Kind() Kind { return KindReject }
func (*Reject) reply()     {}

// Error lets a reject travel as an error where that is more convenient.
func (r *Reject) Error() string {
	return fmt.Sprintf("rejected %s by %s: %s", r.Code, r.TriggeredBy, r.Message)
}

// IsFulfill reports whether r is a non-nil Fulfill.
func IsFulfill(r Reply) bool {
	f, ok := r.(*Fulfill)
	return ok && f != nil
}

// IsReject reports whether r is a non-nil Reject.
func IsReject(r Reply) bool {
	rj, ok := r.(*Reject)
	return ok && rj != nil
}

// NewReject builds a reject triggered by the given node.
func NewReject(code, message, triggeredBy string) *Reject {
	return &Reject{
		Code:        code,
		Message:     message,
		TriggeredBy: triggeredBy,
	}
}
