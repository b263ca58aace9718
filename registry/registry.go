package registry

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("peer not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid peer ID")
)

// Status is a peer's liveness as last observed.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// PeerInfo describes one peer link.
type PeerInfo struct {
	// ID uniquely identifies the peer.
	ID string `json:"id"`

	// Address is where the peer is reached (URL or subject).
	Address string `json:"address,omitempty"`

	// Transport names the endpoint kind: nats, websocket, http or memory.
	Transport string `json:"transport,omitempty"`

	// Status is the outcome of the most recent probe.
	Status Status `json:"status"`

	// LastSeen is when the entry was last written.
	LastSeen time.Time `json:"last_seen"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter specifies criteria for listing peers.
type Filter struct {
	// Status filters by liveness. Empty means all.
	Status Status

	// Transport filters by endpoint kind. Empty means all.
	Transport string
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Peer holds the new state, or the last known state for removals.
	Peer PeerInfo
}

// Registry stores peer liveness.
type Registry interface {
	// Register adds or replaces a peer entry and stamps LastSeen.
	Register(info PeerInfo) error

	// SetStatus updates the status of a registered peer and stamps
	// LastSeen. Returns ErrNotFound if the peer is unknown.
	SetStatus(id string, status Status) error

	// Deregister removes a peer.
	// Returns ErrNotFound if the peer doesn't exist.
	Deregister(id string) error

	// Get retrieves a peer by ID.
	Get(id string) (*PeerInfo, error)

	// List returns peers matching the filter, sorted by ID.
	// Pass nil for no filtering.
	List(filter *Filter) ([]PeerInfo, error)

	// Watch returns a channel of registry events. The channel is closed
	// when the registry is closed.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// ValidatePeerInfo checks if peer info is valid.
func ValidatePeerInfo(info PeerInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}
	switch info.Status {
	case "", StatusActive, StatusInactive:
		return nil
	default:
		return errors.New("status must be active or inactive")
	}
}

// MatchesFilter checks if a peer matches the filter criteria.
func MatchesFilter(info PeerInfo, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && info.Status != filter.Status {
		return false
	}
	if filter.Transport != "" && info.Transport != filter.Transport {
		return false
	}
	return true
}

func normalize(info PeerInfo, now time.Time) PeerInfo {
	if info.Status == "" {
		info.Status = StatusInactive
	}
	info.LastSeen = now
	if info.Metadata != nil {
		md := make(map[string]string, len(info.Metadata))
		for k, v := range info.Metadata {
			md[k] = v
		}
		info.Metadata = md
	}
	return info
}
