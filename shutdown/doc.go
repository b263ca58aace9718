// Package shutdown stops a peer node in phases.
//
// # Overview
//
// A node owns heartbeat schedulers, listeners, transport connections,
// a liveness registry and telemetry exporters. They must stop in that
// order: a scheduler still probing while its endpoint closes would report
// the peer unreachable when only the local side went away. The
// Coordinator runs registered handlers phase by phase, concurrently within
// a phase, under one deadline.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.Config{
//	    DefaultTimeout:  10 * time.Second,
//	    ContinueOnError: true,
//	    Logger:          logger.WithComponent("shutdown"),
//	})
//	coord.HandleSignals() // SIGTERM, SIGINT
//
//	coord.RegisterWithPhase("heartbeat.bob", hb, shutdown.PhaseProbes)
//	coord.RegisterWithPhase("endpoint.bob", shutdown.CloseFunc(ep.Close), shutdown.PhaseEndpoints)
//	coord.RegisterWithPhase("tracing", provider, shutdown.PhaseTelemetry)
//
//	<-coord.Done()
//
// # Phases
//
// Lower phase numbers are shut down first:
//
//   - PhaseProbes (10): heartbeat schedulers
//   - PhaseServers (20): listeners accepting peer connections
//   - PhaseEndpoints (30): transport connections
//   - PhaseRegistry (40): liveness tables
//   - PhaseTelemetry (50): exporters, flushed last
//
// Handlers registered without a phase run in Config.DefaultPhase (100).
// A handler that panics is reported as failed; the others still run.
package shutdown
