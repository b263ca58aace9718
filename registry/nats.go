package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSRegistry implements Registry using a NATS JetStream KV bucket, so
// every node sharing the bucket sees the same liveness table.
type NATSRegistry struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	config NATSRegistryConfig

	mu       sync.RWMutex
	watchers []chan Event
	closed   bool
	cancel   context.CancelFunc
}

// NATSRegistryConfig configures the NATS registry.
type NATSRegistryConfig struct {
	// BucketName is the KV bucket name. Default: "peer-registry"
	BucketName string

	// TTL for peer entries. Zero means no expiry.
	TTL time.Duration

	// Replicas for the KV store (1-5). Default: 1
	Replicas int

	// OpTimeout bounds each KV operation. Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSRegistryConfig returns configuration with sensible defaults.
func DefaultNATSRegistryConfig() NATSRegistryConfig {
	return NATSRegistryConfig{
		BucketName: "peer-registry",
		TTL:        2 * time.Minute,
		Replicas:   1,
		OpTimeout:  5 * time.Second,
	}
}

// NewNATSRegistry creates a new NATS registry from an existing connection.
func NewNATSRegistry(conn *nats.Conn, cfg NATSRegistryConfig) (*NATSRegistry, error) {
	if conn == nil {
		return nil, fmt.Errorf("nil connection")
	}

	if cfg.BucketName == "" {
		cfg.BucketName = "peer-registry"
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancelOp := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancelOp()

	kvCfg := jetstream.KeyValueConfig{
		Bucket:   cfg.BucketName,
		Replicas: cfg.Replicas,
	}
	if cfg.TTL > 0 {
		kvCfg.TTL = cfg.TTL
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvCfg)
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())

	r := &NATSRegistry{
		conn:     conn,
		kv:       kv,
		config:   cfg,
		watchers: make([]chan Event, 0),
		cancel:   cancel,
	}

	go r.watchKV(watchCtx)

	return r, nil
}

func (r *NATSRegistry) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.config.OpTimeout)
}

func (r *NATSRegistry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Register adds or replaces a peer entry.
func (r *NATSRegistry) Register(info PeerInfo) error {
	if err := ValidatePeerInfo(info); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}

	info = normalize(info, time.Now())
	data, err := sonic.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal peer info: %w", err)
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if _, err := r.kv.Put(ctx, info.ID, data); err != nil {
		return fmt.Errorf("put to kv: %w", err)
	}
	return nil
}

// SetStatus updates the liveness of a registered peer. The write is
// conditioned on the revision read, and retried once if another node
// updated the entry in between.
func (r *NATSRegistry) SetStatus(id string, status Status) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := ValidatePeerInfo(PeerInfo{ID: id, Status: status}); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var entry jetstream.KeyValueEntry
		entry, err = r.kv.Get(ctx, id)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get from kv: %w", err)
		}

		var info PeerInfo
		if err := sonic.Unmarshal(entry.Value(), &info); err != nil {
			return fmt.Errorf("unmarshal peer info: %w", err)
		}
		info.Status = status
		info.LastSeen = time.Now()

		data, merr := sonic.Marshal(info)
		if merr != nil {
			return fmt.Errorf("marshal peer info: %w", merr)
		}

		if _, err = r.kv.Update(ctx, id, data, entry.Revision()); err == nil {
			return nil
		}
	}
	return fmt.Errorf("update kv: %w", err)
}

// Deregister removes a peer from the registry.
func (r *NATSRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if r.isClosed() {
		return ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	if _, err := r.kv.Get(ctx, id); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get from kv: %w", err)
	}

	if err := r.kv.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete from kv: %w", err)
	}
	return nil
}

// Get retrieves a peer by ID.
func (r *NATSRegistry) Get(id string) (*PeerInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	entry, err := r.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get from kv: %w", err)
	}

	var info PeerInfo
	if err := sonic.Unmarshal(entry.Value(), &info); err != nil {
		return nil, fmt.Errorf("unmarshal peer info: %w", err)
	}
	return &info, nil
}

// List returns all peers matching the filter.
func (r *NATSRegistry) List(filter *Filter) ([]PeerInfo, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []PeerInfo{}, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var result []PeerInfo
	for _, key := range keys {
		entry, err := r.kv.Get(ctx, key)
		if err != nil {
			continue // deleted since Keys
		}

		var info PeerInfo
		if err := sonic.Unmarshal(entry.Value(), &info); err != nil {
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
func (r *NATSRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)

	return ch, nil
}

// Close shuts down the registry. The connection is left open.
func (r *NATSRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.cancel()

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil

	return nil
}

// OnShutdown closes the registry.
func (r *NATSRegistry) OnShutdown(ctx context.Context) error {
	return r.Close()
}

// watchKV monitors the bucket and notifies watchers. Entries present when
// the watch starts are recorded without emitting events.
func (r *NATSRegistry) watchKV(ctx context.Context) {
	watcher, err := r.kv.WatchAll(ctx)
	if err != nil {
		return
	}
	defer watcher.Stop()

	seen := make(map[string]bool)
	replaying := true

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				replaying = false
				continue
			}

			event, ok := toEvent(entry, seen)
			if !ok || replaying {
				continue
			}

			r.mu.RLock()
			if r.closed {
				r.mu.RUnlock()
				return
			}
			for _, ch := range r.watchers {
				select {
				case ch <- event:
				default:
				}
			}
			r.mu.RUnlock()
		}
	}
}

// toEvent converts a KV entry and keeps seen current.
func toEvent(entry jetstream.KeyValueEntry, seen map[string]bool) (Event, bool) {
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var info PeerInfo
		if err := sonic.Unmarshal(entry.Value(), &info); err != nil {
			return Event{}, false
		}
		typ := EventUpdated
		if !seen[entry.Key()] {
			typ = EventAdded
			seen[entry.Key()] = true
		}
		return Event{Type: typ, Peer: info}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(seen, entry.Key())
		return Event{Type: EventRemoved, Peer: PeerInfo{ID: entry.Key()}}, true
	default:
		return Event{}, false
	}
}

// Conn returns the underlying NATS connection.
func (r *NATSRegistry) Conn() *nats.Conn {
	return r.conn
}
