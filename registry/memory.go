package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryRegistry is an in-memory implementation of Registry.
// Suitable for testing and single-node deployments.
type MemoryRegistry struct {
	mu       sync.RWMutex
	peers    map[string]PeerInfo
	watchers []chan Event
	closed   bool
	stop     chan struct{}

	// TTL for stale entry detection. Zero means no expiry.
	ttl   time.Duration
	clock clock.Clock
}

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	// TTL specifies how long an entry lives without being written.
	// Zero means entries never expire.
	TTL time.Duration

	// Clock stamps LastSeen and drives expiry.
	// Default: the wall clock
	Clock clock.Clock
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	r := &MemoryRegistry{
		peers:    make(map[string]PeerInfo),
		watchers: make([]chan Event, 0),
		stop:     make(chan struct{}),
		ttl:      cfg.TTL,
		clock:    clk,
	}

	if cfg.TTL > 0 {
		go r.cleanupLoop(clk.Ticker(cfg.TTL / 2))
	}

	return r
}

// Register adds or replaces a peer entry.
func (r *MemoryRegistry) Register(info PeerInfo) error {
	if err := ValidatePeerInfo(info); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info = normalize(info, r.clock.Now())
	_, exists := r.peers[info.ID]
	r.peers[info.ID] = info

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	r.notifyWatchers(Event{Type: eventType, Peer: info})

	return nil
}

// SetStatus updates the liveness of a registered peer.
func (r *MemoryRegistry) SetStatus(id string, status Status) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := ValidatePeerInfo(PeerInfo{ID: id, Status: status}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info, exists := r.peers[id]
	if !exists {
		return ErrNotFound
	}
	info.Status = status
	info.LastSeen = r.clock.Now()
	r.peers[id] = info

	r.notifyWatchers(Event{Type: EventUpdated, Peer: info})
	return nil
}

// Deregister removes a peer from the registry.
func (r *MemoryRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info, exists := r.peers[id]
	if !exists {
		return ErrNotFound
	}

	delete(r.peers, id)
	r.notifyWatchers(Event{Type: EventRemoved, Peer: info})

	return nil
}

// Get retrieves a peer by ID.
func (r *MemoryRegistry) Get(id string) (*PeerInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	info, exists := r.peers[id]
	if !exists || r.stale(info, r.clock.Now()) {
		return nil, ErrNotFound
	}

	return &info, nil
}

// List returns all peers matching the filter.
func (r *MemoryRegistry) List(filter *Filter) ([]PeerInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	var result []PeerInfo
	now := r.clock.Now()

	for _, info := range r.peers {
		if r.stale(info, now) {
			continue
		}
		if MatchesFilter(info, filter) {
			result = append(result, info)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)

	return ch, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	close(r.stop)

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil

	return nil
}

func (r *MemoryRegistry) stale(info PeerInfo, now time.Time) bool {
	return r.ttl > 0 && now.Sub(info.LastSeen) > r.ttl
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// cleanupLoop periodically removes stale entries.
func (r *MemoryRegistry) cleanupLoop(ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}

		now := r.clock.Now()
		for id, info := range r.peers {
			if r.stale(info, now) {
				delete(r.peers, id)
				r.notifyWatchers(Event{Type: EventRemoved, Peer: info})
			}
		}
		r.mu.Unlock()
	}
}
