// Package heartbeat provides link liveness probing between two peers.
//
// # Overview
//
// Each side of a peer link periodically sends a probe request to the other
// side's well-known liveness address and expects a fulfill back. The
// outcome of every probe drives an external availability state through two
// callbacks, OnSuccess and OnFailure.
//
// # Architecture
//
//	┌─────────────┐     prepare peer.heartbeat     ┌─────────────┐
//	│  Scheduler  │ ─────────────────────────────> │ Interceptor │
//	│   (Alice)   │ <───────────────────────────── │    (Bob)    │
//	└─────────────┘            fulfill             └─────────────┘
//
// The Scheduler fires once per interval and sends one probe per tick. The
// Interceptor sits in the receiving pipeline and answers probes locally,
// so they never reach the application.
//
// # Usage
//
// Probing a peer:
//
//	sched, _ := heartbeat.NewScheduler(heartbeat.Config{
//	    Endpoint:  ep,
//	    Interval:  30 * time.Second,
//	    OnSuccess: func() { reg.MarkActive("bob") },
//	    OnFailure: func() { reg.MarkInactive("bob") },
//	})
//	sched.Start(ctx)
//	defer sched.Stop()
//
// Both halves as one pipeline link:
//
//	hb, _ := heartbeat.NewMiddleware(cfg)
//	p := middleware.NewPipeline(ep, hb)
//	p.Startup(ctx)
//
// # Outcomes
//
// A probe succeeds only when the reply is a fulfill and the endpoint
// reports itself connected when the reply arrives. Rejects, transport
// errors, panics inside the endpoint and a disconnected endpoint are all
// failures. Exactly one callback runs per tick. The interval is fixed; the
// scheduler never backs off.
package heartbeat
