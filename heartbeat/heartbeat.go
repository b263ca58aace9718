package heartbeat

import (
	"encoding/base64"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vinayprograms/peerkit/endpoint"
	"github.com/vinayprograms/peerkit/errors"
	"github.com/vinayprograms/peerkit/packet"
)

// DefaultInterval is the probe interval used when Config.Interval is zero.
const DefaultInterval = 30 * time.Second

// Probe packet contents.
const (
	ProbeAmount = "52"
	ProbeExpiry = 2 * time.Second
)

// probeCondition is a fixed placeholder; probes are never settled.
var probeCondition = mustDecode("uzoYx3K6u+Nt6kZjbN6KmH0yARfhkj9e17eQfpSeB7U=")

func mustDecode(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// NewProbe builds a probe request that expires ProbeExpiry after now.
func NewProbe(now time.Time) *packet.Prepare {
	cond := make([]byte, len(probeCondition))
	copy(cond, probeCondition)
	return &packet.Prepare{
		Destination:        packet.HeartbeatDestination,
		Amount:             ProbeAmount,
		ExecutionCondition: cond,
		ExpiresAt:          now.Add(ProbeExpiry),
		Data:               []byte{},
	}
}

// Config configures a Scheduler. It is read once at construction.
type Config struct {
	// Endpoint carries the probes. It is shared, not owned: the scheduler
	// never closes it.
	Endpoint endpoint.Endpoint

	// Interval between probes.
	// Default: 30 seconds
	Interval time.Duration

	// OnSuccess runs after a probe was fulfilled on a connected endpoint.
	OnSuccess func()

	// OnFailure runs after any other probe outcome.
	OnFailure func()

	// Clock drives the ticker.
	// Default: the wall clock
	Clock clock.Clock
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == nil {
		return errors.InvalidConfig("heartbeat: endpoint required")
	}
	if c.OnSuccess == nil || c.OnFailure == nil {
		return errors.InvalidConfig("heartbeat: OnSuccess and OnFailure required")
	}
	if c.Interval < 0 {
		return errors.InvalidConfig("heartbeat: interval must not be negative")
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		Clock:    clock.New(),
	}
}

// State is the lifecycle state of a Scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome is the result of one probe.
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}
