package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/middleware"
	"github.com/vinayprograms/peerkit/packet"
)

func appRequest(dest string) *packet.Prepare {
	return &packet.Prepare{
		Destination:        dest,
		Amount:             "100",
		ExecutionCondition: make([]byte, packet.ConditionSize),
		ExpiresAt:          time.Now().Add(time.Minute),
	}
}

// --- Unit Tests ---

// A probe never reaches the downstream handler.
func TestIntercept_ScenarioE_ProbeShortCircuits(t *testing.T) {
	var ran atomic.Bool
	next := func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
		ran.Store(true)
		return packet.NewReject(packet.CodeInternalError, "should not run", "app"), nil
	}

	reply, err := Intercept(context.Background(), NewProbe(time.Now()), next)
	if err != nil {
		t.Fatalf("Intercept error: %v", err)
	}
	if !packet.IsFulfill(reply) {
		t.Fatalf("reply = %#v, want fulfill", reply)
	}
	if ran.Load() {
		t.Error("downstream handler ran for a probe")
	}
}

func TestIntercept_PassesOtherRequests(t *testing.T) {
	wantReject := packet.NewReject(packet.CodeBadRequest, "nope", "app")

	tests := []struct {
		name  string
		reply packet.Reply
	}{
		{"fulfill", &packet.Fulfill{Data: []byte("ok")}},
		{"reject", wantReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			next := func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
				calls++
				return tt.reply, nil
			}

			reply, err := Intercept(context.Background(), appRequest("g.alice.payments"), next)
			if err != nil {
				t.Fatalf("Intercept error: %v", err)
			}
			if calls != 1 {
				t.Errorf("downstream calls = %d, want 1", calls)
			}
			if reply != tt.reply {
				t.Errorf("reply = %#v, want %#v", reply, tt.reply)
			}
		})
	}
}

func TestIntercept_SimilarDestinationIsNotAProbe(t *testing.T) {
	var calls int
	next := func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
		calls++
		return &packet.Fulfill{}, nil
	}

	for _, dest := range []string{"peer.heartbeat.extra", "PEER.HEARTBEAT", "g.peer.heartbeat"} {
		if _, err := Intercept(context.Background(), appRequest(dest), next); err != nil {
			t.Fatalf("Intercept(%q) error: %v", dest, err)
		}
	}
	if calls != 3 {
		t.Errorf("downstream calls = %d, want 3", calls)
	}
}

// --- Integration Tests ---

func TestInterceptor_InPipeline(t *testing.T) {
	local, remote := endpoint.NewMemoryPair()
	pipe := middleware.NewPipeline(local, Interceptor)

	var appCalls atomic.Int32
	pipe.SetIncomingRequestHandler(func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
		appCalls.Add(1)
		return &packet.Fulfill{Data: []byte(req.Destination)}, nil
	})

	reply, err := remote.SendOutgoingRequest(context.Background(), NewProbe(time.Now()), nil)
	if err != nil || !packet.IsFulfill(reply) {
		t.Fatalf("probe reply = %#v, %v; want fulfill", reply, err)
	}
	if appCalls.Load() != 0 {
		t.Error("application saw a probe")
	}

	reply, err = remote.SendOutgoingRequest(context.Background(), appRequest("g.alice.x"), nil)
	if err != nil {
		t.Fatalf("app request error: %v", err)
	}
	if f, ok := reply.(*packet.Fulfill); !ok || string(f.Data) != "g.alice.x" {
		t.Errorf("app reply = %#v", reply)
	}
	if appCalls.Load() != 1 {
		t.Errorf("application calls = %d, want 1", appCalls.Load())
	}
}

// Two peers each running the heartbeat link see each other as alive.
func TestMiddleware_PeersProbeEachOther(t *testing.T) {
	mock := clock.NewMock()
	aliceEP, bobEP := endpoint.NewMemoryPair()

	var aliceOK, bobOK, failures atomic.Int32
	aliceHB, err := NewMiddleware(Config{
		Endpoint:  aliceEP,
		OnSuccess: func() { aliceOK.Add(1) },
		OnFailure: func() { failures.Add(1) },
		Clock:     mock,
	})
	if err != nil {
		t.Fatalf("NewMiddleware error: %v", err)
	}
	bobHB, err := NewMiddleware(Config{
		Endpoint:  bobEP,
		OnSuccess: func() { bobOK.Add(1) },
		OnFailure: func() { failures.Add(1) },
		Clock:     mock,
	})
	if err != nil {
		t.Fatalf("NewMiddleware error: %v", err)
	}

	alice := middleware.NewPipeline(aliceEP, aliceHB)
	bob := middleware.NewPipeline(bobEP, bobHB)

	ctx := context.Background()
	if err := alice.Startup(ctx); err != nil {
		t.Fatalf("alice startup: %v", err)
	}
	if err := bob.Startup(ctx); err != nil {
		t.Fatalf("bob startup: %v", err)
	}
	if aliceHB.State() != StateRunning || bobHB.State() != StateRunning {
		t.Fatal("startup should start both schedulers")
	}

	mock.Add(DefaultInterval)
	waitFor(t, "both probes", func() bool { return aliceOK.Load() == 1 && bobOK.Load() == 1 })

	if failures.Load() != 0 {
		t.Errorf("failures = %d, want 0", failures.Load())
	}

	if err := alice.Shutdown(ctx); err != nil {
		t.Errorf("alice shutdown: %v", err)
	}
	if err := bob.Shutdown(ctx); err != nil {
		t.Errorf("bob shutdown: %v", err)
	}
	if aliceHB.State() != StateStopped || bobHB.State() != StateStopped {
		t.Error("shutdown should stop both schedulers")
	}
}

func TestMiddleware_OutgoingPassesThrough(t *testing.T) {
	ep := endpoint.NewMemoryEndpoint(func(ctx context.Context, req *packet.Prepare) (packet.Reply, error) {
		return &packet.Fulfill{Data: []byte("sent")}, nil
	})
	hb, err := NewMiddleware(Config{Endpoint: ep, OnSuccess: func() {}, OnFailure: func() {}})
	if err != nil {
		t.Fatalf("NewMiddleware error: %v", err)
	}
	pipe := middleware.NewPipeline(ep, hb)

	var sentCalled bool
	reply, err := pipe.SendOutgoingRequest(context.Background(), appRequest("g.bob"), func() { sentCalled = true })
	if err != nil || !packet.IsFulfill(reply) {
		t.Fatalf("reply = %#v, %v", reply, err)
	}
	if !sentCalled {
		t.Error("sent callback was not forwarded")
	}
	if err := hb.OnShutdown(context.Background()); err != nil {
		t.Errorf("OnShutdown error: %v", err)
	}
	if hb.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", hb.State())
	}
}
