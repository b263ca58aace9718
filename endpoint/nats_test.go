package endpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// getNATSURL returns the NATS URL for testing, or skips the test.
func getNATSURL(t *testing.T) string {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}

	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}

	conn, err := nats.Connect(url, nats.Timeout(2*time.Second), nats.MaxReconnects(0))
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	conn.Close()

	return url
}

func natsPair(t *testing.T) (alice, bob *NATSEndpoint) {
	t.Helper()
	return natsPairCodec(t, packet.JSON)
}

func natsPairCodec(t *testing.T, codec packet.Codec) (alice, bob *NATSEndpoint) {
	t.Helper()
	url := getNATSURL(t)
	prefix := "peerkit.test." + time.Now().Format("150405.000000")

	aliceCfg := DefaultNATSConfig()
	aliceCfg.URL = url
	aliceCfg.NodeID = "alice"
	aliceCfg.PeerID = "bob"
	aliceCfg.LocalSubject = prefix + ".alice"
	aliceCfg.PeerSubject = prefix + ".bob"
	aliceCfg.Codec = codec

	bobCfg := aliceCfg
	bobCfg.NodeID = "bob"
	bobCfg.PeerID = "alice"
	bobCfg.LocalSubject = prefix + ".bob"
	bobCfg.PeerSubject = prefix + ".alice"

	var err error
	alice, err = NewNATSEndpoint(aliceCfg, quietLogger())
	if err != nil {
		t.Fatalf("NewNATSEndpoint(alice) error: %v", err)
	}
	t.Cleanup(func() { alice.Close() })

	bob, err = NewNATSEndpoint(bobCfg, quietLogger())
	if err != nil {
		t.Fatalf("NewNATSEndpoint(bob) error: %v", err)
	}
	t.Cleanup(func() { bob.Close() })

	// Subscriptions must reach the server before requests are published.
	alice.Conn().Flush()
	bob.Conn().Flush()
	return alice, bob
}

// --- Unit Tests ---

func TestNATSConfig_Defaults(t *testing.T) {
	cfg := DefaultNATSConfig()
	if cfg.URL != nats.DefaultURL {
		t.Errorf("URL = %q, want %q", cfg.URL, nats.DefaultURL)
	}
	if cfg.MaxReconnects != -1 {
		t.Errorf("MaxReconnects = %d, want -1", cfg.MaxReconnects)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
}

// --- Integration Tests ---

func TestNATSEndpoint_RoundTrip(t *testing.T) {
	alice, bob := natsPair(t)
	bob.SetIncomingRequestHandler(fulfillAll)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sentCalls := 0
	reply, err := alice.SendOutgoingRequest(ctx, testPrepare(packet.HeartbeatDestination), func() { sentCalls++ })
	if err != nil {
		t.Fatalf("SendOutgoingRequest error: %v", err)
	}
	f, ok := reply.(*packet.Fulfill)
	if !ok || string(f.Data) != packet.HeartbeatDestination {
		t.Fatalf("reply = %#v, want fulfill echoing destination", reply)
	}
	if sentCalls != 1 {
		t.Errorf("sent called %d times, want 1", sentCalls)
	}
	if !alice.Connected() {
		t.Error("alice should be connected")
	}
}

func TestNATSEndpoint_MsgPack(t *testing.T) {
	alice, bob := natsPairCodec(t, packet.MsgPack)
	bob.SetIncomingRequestHandler(fulfillAll)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := alice.SendOutgoingRequest(ctx, testPrepare("g.bob.bin"), nil)
	if err != nil {
		t.Fatalf("SendOutgoingRequest error: %v", err)
	}
	if f, ok := reply.(*packet.Fulfill); !ok || string(f.Data) != "g.bob.bin" {
		t.Errorf("reply = %#v, want fulfill echoing destination", reply)
	}
}

func TestNATSEndpoint_HandlerErrorBecomesReject(t *testing.T) {
	alice, bob := natsPair(t)
	bob.SetIncomingRequestHandler(func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
		return nil, errors.FromCode(errors.ErrCodeNoHandler)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := alice.SendOutgoingRequest(ctx, testPrepare("g.bob"), nil)
	if err != nil {
		t.Fatalf("SendOutgoingRequest error: %v", err)
	}
	rj, ok := reply.(*packet.Reject)
	if !ok || rj.Code != packet.CodeUnreachable || rj.TriggeredBy != "bob" {
		t.Errorf("reply = %#v, want F02 reject by bob", reply)
	}
}

func TestNATSEndpoint_NoResponders(t *testing.T) {
	alice, bob := natsPair(t)
	bob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := alice.SendOutgoingRequest(ctx, testPrepare("g.bob"), nil)
	if !errors.Is(err, errors.ErrCodeUnavailable) && !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("error = %v, want UNAVAILABLE or TIMEOUT", err)
	}
}

func TestNATSEndpoint_Closed(t *testing.T) {
	alice, _ := natsPair(t)
	alice.Close()

	if alice.Connected() {
		t.Error("closed endpoint should not report connected")
	}
	_, err := alice.SendOutgoingRequest(context.Background(), testPrepare("g.bob"), nil)
	if !errors.Is(err, errors.ErrCodeClosed) {
		t.Errorf("error = %v, want CLOSED", err)
	}
}

func TestNATSEndpoint_RequiresPeerSubject(t *testing.T) {
	url := getNATSURL(t)
	conn, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect error: %v", err)
	}
	defer conn.Close()

	_, err = NewNATSEndpointFromConn(conn, NATSConfig{}, quietLogger())
	if !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("error = %v, want INVALID_CONFIG", err)
	}
}
