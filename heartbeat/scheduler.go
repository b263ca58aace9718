package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/packet"
)

// Scheduler sends one liveness probe per interval through an endpoint and
// reports each outcome through the configured callbacks.
type Scheduler struct {
	endpoint  endpoint.Endpoint
	interval  time.Duration
	onSuccess func()
	onFailure func()
	clock     clock.Clock

	mu     sync.Mutex
	state  State
	ticker *clock.Ticker
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates an idle scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Scheduler{
		endpoint:  cfg.Endpoint,
		interval:  interval,
		onSuccess: cfg.OnSuccess,
		onFailure: cfg.OnFailure,
		clock:     clk,
	}, nil
}

// Start arms the ticker. Calling Start on a running scheduler does
// nothing; a stopped scheduler starts again with a fresh ticker. The first
// probe is sent one interval after Start. Cancelling ctx stops the
// scheduler as Stop would.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.ticker = s.clock.Ticker(s.interval)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = StateRunning

	go s.run(ctx, s.ticker, s.stopCh, s.doneCh)
}

// Stop cancels the ticker. It is safe in any state and may be called more
// than once. Once Stop returns no further probe is dispatched; a probe
// already in flight still resolves and reports its outcome.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		if s.state == StateIdle {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.ticker.Stop()
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Interval returns the probe interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) run(ctx context.Context, ticker *clock.Ticker, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.doneCh == doneCh && s.state == StateRunning {
				s.state = StateStopped
				ticker.Stop()
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			// A tick and Stop can be ready together; Stop wins.
			select {
			case <-stopCh:
				return
			default:
			}
			go s.probe(ctx)
		}
	}
}

// probe runs one probe cycle.
func (s *Scheduler) probe(ctx context.Context) {
	switch s.resolve(ctx) {
	case OutcomeSuccess:
		s.onSuccess()
	default:
		s.onFailure()
	}
}

// resolve sends a probe and classifies the result. Connectedness is read
// after the reply arrives.
func (s *Scheduler) resolve(ctx context.Context) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeFailure
		}
	}()

	reply, err := s.endpoint.SendOutgoingRequest(ctx, NewProbe(s.clock.Now()), nil)
	if err != nil || !packet.IsFulfill(reply) {
		return OutcomeFailure
	}
	if !s.endpoint.Connected() {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
