package packet

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func validPrepare() *Prepare {
	return &Prepare{
		Destination:        "g.bob.payments",
		Amount:             "100",
		ExecutionCondition: bytes.Repeat([]byte{7}, ConditionSize),
		ExpiresAt:          time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC),
	}
}

// --- Unit Tests ---

func TestPrepare_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Prepare)
		wantErr error
	}{
		{name: "valid", mutate: func(p *Prepare) {}},
		{name: "missing destination", mutate: func(p *Prepare) { p.Destination = "" }, wantErr: ErrMissingDestination},
		{name: "empty amount", mutate: func(p *Prepare) { p.Amount = "" }, wantErr: ErrInvalidAmount},
		{name: "negative amount", mutate: func(p *Prepare) { p.Amount = "-1" }, wantErr: ErrInvalidAmount},
		{name: "fractional amount", mutate: func(p *Prepare) { p.Amount = "1.5" }, wantErr: ErrInvalidAmount},
		{name: "short condition", mutate: func(p *Prepare) { p.ExecutionCondition = []byte{1} }, wantErr: ErrInvalidCondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPrepare()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrepare_IsHeartbeat(t *testing.T) {
	p := validPrepare()
	if p.IsHeartbeat() {
		t.Error("payment prepare reported as heartbeat")
	}
	p.Destination = HeartbeatDestination
	if !p.IsHeartbeat() {
		t.Error("heartbeat prepare not recognised")
	}
	var nilPrepare *Prepare
	if nilPrepare.IsHeartbeat() {
		t.Error("nil prepare reported as heartbeat")
	}
}

func TestReplyVariants(t *testing.T) {
	var nilFulfill *Fulfill
	var nilReject *Reject

	tests := []struct {
		name        string
		reply       Reply
		wantFulfill bool
		wantReject  bool
	}{
		{"fulfill", &Fulfill{}, true, false},
		{"reject", NewReject(CodeInternalError, "boom", "test"), false, true},
		{"nil interface", nil, false, false},
		{"typed nil fulfill", nilFulfill, false, false},
		{"typed nil reject", nilReject, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFulfill(tt.reply); got != tt.wantFulfill {
				t.Errorf("IsFulfill = %v, want %v", got, tt.wantFulfill)
			}
			if got := IsReject(tt.reply); got != tt.wantReject {
				t.Errorf("IsReject = %v, want %v", got, tt.wantReject)
			}
		})
	}
}

func TestReject_Error(t *testing.T) {
	r := NewReject(CodePeerUnreachable, "link down", "g.alice")
	want := "rejected T01 by g.alice: link down"
	if r.Error() != want {
		t.Errorf("Error() = %q, want %q", r.Error(), want)
	}
}

// --- Codec Tests ---

func TestEncodePrepare_Decode(t *testing.T) {
	p := validPrepare()
	data, err := EncodePrepare("req-1", p)
	if err != nil {
		t.Fatalf("EncodePrepare error: %v", err)
	}

	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if env.ID != "req-1" || env.Type != TypePrepare {
		t.Fatalf("envelope = %+v, want id req-1 type prepare", env)
	}
	if env.Prepare.Destination != p.Destination {
		t.Errorf("Destination = %q, want %q", env.Prepare.Destination, p.Destination)
	}
	if !bytes.Equal(env.Prepare.ExecutionCondition, p.ExecutionCondition) {
		t.Error("execution condition changed on the wire")
	}
	if !env.Prepare.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", env.Prepare.ExpiresAt, p.ExpiresAt)
	}
	if env.IsReply() {
		t.Error("prepare envelope reported as reply")
	}
}

func TestEncodeReply_Reject(t *testing.T) {
	data, err := EncodeReply("req-2", NewReject(CodeUnreachable, "no route", "g.bob"))
	if err != nil {
		t.Fatalf("EncodeReply error: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	reply, err := env.Reply()
	if err != nil {
		t.Fatalf("Reply error: %v", err)
	}
	rj, ok := reply.(*Reject)
	if !ok {
		t.Fatalf("reply = %T, want *Reject", reply)
	}
	if rj.Code != CodeUnreachable || rj.TriggeredBy != "g.bob" {
		t.Errorf("reject = %+v", rj)
	}
}

func TestEncodeReply_Invalid(t *testing.T) {
	var nilFulfill *Fulfill
	if _, err := EncodeReply("x", nilFulfill); !errors.Is(err, ErrMalformed) {
		t.Errorf("nil fulfill error = %v, want ErrMalformed", err)
	}
	if _, err := EncodeReply("x", nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("nil reply error = %v, want ErrMalformed", err)
	}
	if _, err := EncodePrepare("x", nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("nil prepare error = %v, want ErrMalformed", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "not json"},
		{"unknown type", `{"type":"ping"}`},
		{"prepare without payload", `{"type":"prepare"}`},
		{"fulfill without payload", `{"type":"fulfill"}`},
		{"reject without payload", `{"type":"reject"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); !errors.Is(err, ErrMalformed) {
				t.Errorf("Decode error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{"", JSON, false},
		{"json", JSON, false},
		{"msgpack", MsgPack, false},
		{"protobuf", nil, true},
	}
	for _, tt := range tests {
		got, err := CodecByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("CodecByName(%q) error = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("CodecByName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if JSON.Binary() || !MsgPack.Binary() {
		t.Error("only msgpack is binary")
	}
}

func TestMsgPack_Prepare(t *testing.T) {
	p := validPrepare()
	data, err := MsgPack.EncodePrepare("req-3", p)
	if err != nil {
		t.Fatalf("EncodePrepare error: %v", err)
	}
	if _, err := JSON.Decode(data); err == nil {
		t.Error("JSON decoded a msgpack frame")
	}

	env, err := MsgPack.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if env.ID != "req-3" || env.Prepare.Destination != p.Destination || env.Prepare.Amount != p.Amount {
		t.Errorf("envelope = %+v", env)
	}
	if !env.Prepare.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", env.Prepare.ExpiresAt, p.ExpiresAt)
	}
}

func TestMsgPack_Malformed(t *testing.T) {
	if _, err := MsgPack.Decode([]byte{0xc1}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Decode error = %v, want ErrMalformed", err)
	}
	data, _ := MsgPack.EncodeReply("x", &Fulfill{})
	env, err := MsgPack.Decode(data)
	if err != nil || env.Type != TypeFulfill {
		t.Errorf("fulfill = %+v, %v", env, err)
	}
}
