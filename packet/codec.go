package packet

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/vmihailenco/msgpack/v5"
)

// Type discriminates the payload of an Envelope.
type Type string

const (
	TypePrepare Type = "prepare"
	TypeFulfill Type = "fulfill"
	TypeReject  Type = "reject"
)

// ErrMalformed is returned when an envelope does not carry the payload its
// type announces.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the wire form of a packet. ID correlates a reply with its
// request on transports that multiplex several exchanges.
type Envelope struct {
	ID      string   `json:"id,omitempty" msgpack:"id,omitempty"`
	Type    Type     `json:"type" msgpack:"type"`
	Prepare *Prepare `json:"prepare,omitempty" msgpack:"prepare,omitempty"`
	Fulfill *Fulfill `json:"fulfill,omitempty" msgpack:"fulfill,omitempty"`
	Reject  *Reject  `json:"reject,omitempty" msgpack:"reject,omitempty"`
}

// Codec serializes envelopes for one wire format.
type Codec interface {
	// Name is the format name used in configuration.
	Name() string

	// Binary reports whether encoded envelopes are binary rather than text.
	Binary() bool

	EncodePrepare(id string, p *Prepare) ([]byte, error)
	EncodeReply(id string, r Reply) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
}

// Available codecs.
var (
	JSON    Codec = &codec{name: "json", marshal: sonic.Marshal, unmarshal: sonic.Unmarshal}
	MsgPack Codec = &codec{name: "msgpack", binary: true, marshal: msgpack.Marshal, unmarshal: msgpack.Unmarshal}
)

// CodecByName returns the codec with the given name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

type codec struct {
	name      string
	binary    bool
	marshal   func(v interface{}) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

func (c *codec) Name() string { return c.name }
func (c *codec) Binary() bool { return c.binary }

// EncodePrepare serializes a request as JSON.
func EncodePrepare(id string, p *Prepare) ([]byte, error) {
	return JSON.EncodePrepare(id, p)
}

// EncodeReply serializes a reply as JSON.
func EncodeReply(id string, r Reply) ([]byte, error) {
	return JSON.EncodeReply(id, r)
}

// Decode parses a JSON envelope and checks that its payload matches its
// type.
func Decode(data []byte) (*Envelope, error) {
	return JSON.Decode(data)
}

func (c *codec) EncodePrepare(id string, p *Prepare) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil prepare", ErrMalformed)
	}
	return c.marshal(&Envelope{ID: id, Type: TypePrepare, Prepare: p})
}

func (c *codec) EncodeReply(id string, r Reply) ([]byte, error) {
	env := &Envelope{ID: id}
	switch v := r.(type) {
	case *Fulfill:
		if v == nil {
			return nil, fmt.Errorf("%w: nil fulfill", ErrMalformed)
		}
		env.Type, env.Fulfill = TypeFulfill, v
	case *Reject:
		if v == nil {
			return nil, fmt.Errorf("%w: nil reject", ErrMalformed)
		}
		env.Type, env.Reject = TypeReject, v
	default:
		return nil, fmt.Errorf("%w: unknown reply %T", ErrMalformed, r)
	}
	return c.marshal(env)
}

func (c *codec) Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := c.unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch env.Type {
	case TypePrepare:
		if env.Prepare == nil {
			return nil, fmt.Errorf("%w: prepare without payload", ErrMalformed)
		}
	case TypeFulfill:
		if env.Fulfill == nil {
			return nil, fmt.Errorf("%w: fulfill without payload", ErrMalformed)
		}
	case TypeReject:
		if env.Reject == nil {
			return nil, fmt.Errorf("%w: reject without payload", ErrMalformed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	return &env, nil
}

// Reply returns the reply carried by the envelope.
func (e *Envelope) Reply() (Reply, error) {
	switch e.Type {
	case TypeFulfill:
		return e.Fulfill, nil
	case TypeReject:
		return e.Reject, nil
	}
	return nil, fmt.Errorf("%w: %q is not a reply", ErrMalformed, e.Type)
}

// IsReply reports whether the envelope carries a reply.
func (e *Envelope) IsReply() bool {
	return e.Type == TypeFulfill || e.Type == TypeReject
}
