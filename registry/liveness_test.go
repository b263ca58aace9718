package registry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/vinayprograms/peerkit/logging"
)

func testLogger() (*logging.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logging.New().WithComponent("registry")
	l.SetOutput(&buf)
	l.SetLevel(logging.LevelDebug)
	return l, &buf
}

// --- Unit Tests ---

func TestLivenessCallbacks_MarksStatus(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	info := PeerInfo{ID: "bob", Address: "ws://bob", Transport: "websocket"}
	onSuccess, onFailure := LivenessCallbacks(r, info, nil)

	tests := []struct {
		name string
		call func()
		want Status
	}{
		{"first success registers", onSuccess, StatusActive},
		{"failure", onFailure, StatusInactive},
		{"recovery", onSuccess, StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.call()
			got, err := r.Get("bob")
			if err != nil {
				t.Fatalf("Get error: %v", err)
			}
			if got.Status != tt.want {
				t.Errorf("Status = %v, want %v", got.Status, tt.want)
			}
			if got.Address != "ws://bob" || got.Transport != "websocket" {
				t.Errorf("entry lost its address: %+v", got)
			}
		})
	}
}

func TestLivenessCallbacks_ReRegistersAfterRemoval(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()

	onSuccess, onFailure := LivenessCallbacks(r, PeerInfo{ID: "bob"}, nil)
	onSuccess()
	r.Deregister("bob")

	onFailure()
	got, err := r.Get("bob")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != StatusInactive {
		t.Errorf("Status = %v, want %v", got.Status, StatusInactive)
	}
}

func TestLivenessCallbacks_LogsTransitionsOnly(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()
	logger, buf := testLogger()

	onSuccess, onFailure := LivenessCallbacks(r, PeerInfo{ID: "bob"}, logger)
	onSuccess()
	onSuccess()
	onFailure()
	onFailure()
	onFailure()

	out := buf.String()
	if n := strings.Count(out, "peer_available"); n != 1 {
		t.Errorf("peer_available logged %d times, want 1\n%s", n, out)
	}
	if n := strings.Count(out, "peer_unavailable"); n != 1 {
		t.Errorf("peer_unavailable logged %d times, want 1\n%s", n, out)
	}
	if !strings.Contains(out, "peer_id=bob") {
		t.Errorf("log missing peer id: %s", out)
	}
}

func TestLivenessCallbacks_ClosedRegistry(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	logger, buf := testLogger()
	onSuccess, _ := LivenessCallbacks(r, PeerInfo{ID: "bob"}, logger)
	r.Close()

	onSuccess()
	if buf.Len() != 0 {
		t.Errorf("closed registry should be silent, got %q", buf.String())
	}
}

func TestLivenessCallbacks_InvalidPeerLogsWarning(t *testing.T) {
	r := NewMemoryRegistry(MemoryConfig{})
	defer r.Close()
	logger, buf := testLogger()

	onSuccess, _ := LivenessCallbacks(r, PeerInfo{}, logger)
	onSuccess()

	if !strings.Contains(buf.String(), "registry_update_failed") {
		t.Errorf("expected a warning, got %q", buf.String())
	}
}

func TestMatchesFilter(t *testing.T) {
	info := PeerInfo{ID: "bob", Transport: "nats", Status: StatusActive}

	tests := []struct {
		name   string
		filter *Filter
		want   bool
	}{
		{"nil", nil, true},
		{"empty", &Filter{}, true},
		{"status match", &Filter{Status: StatusActive}, true},
		{"status mismatch", &Filter{Status: StatusInactive}, false},
		{"transport match", &Filter{Transport: "nats"}, true},
		{"transport mismatch", &Filter{Transport: "http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesFilter(info, tt.filter); got != tt.want {
				t.Errorf("MatchesFilter() = %v, want %v", got, tt.want)
			}
		})
	}
}
