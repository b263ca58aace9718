package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on etcd. Each entry is attached to a
// lease of TTL seconds; liveness updates refresh the lease, so a node that
// stops reporting a peer lets the entry expire.
type EtcdRegistry struct {
	cli    *clientv3.Client
	config EtcdRegistryConfig

	mu       sync.RWMutex
	watchers []chan Event
	closed   bool
	cancel   context.CancelFunc
}

// EtcdRegistryConfig configures the etcd registry.
type EtcdRegistryConfig struct {
	// Prefix is prepended to every peer ID. Default: "/peerkit/peers/"
	Prefix string

	// TTL for peer entries, rounded up to whole seconds. Zero means no
	// expiry.
	TTL time.Duration

	// OpTimeout bounds each etcd operation. Default: 5s
	OpTimeout time.Duration
}

// DefaultEtcdRegistryConfig returns configuration with sensible defaults.
func DefaultEtcdRegistryConfig() EtcdRegistryConfig {
	return EtcdRegistryConfig{
		Prefix:    "/peerkit/peers/",
		TTL:       2 * time.Minute,
		OpTimeout: 5 * time.Second,
	}
}

// NewEtcdClient connects to the given etcd endpoints.
func NewEtcdClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// NewEtcdRegistry creates a registry on an existing client. The client is
// not closed by Close.
func NewEtcdRegistry(cli *clientv3.Client, cfg EtcdRegistryConfig) (*EtcdRegistry, error) {
	if cli == nil {
		return nil, fmt.Errorf("nil client")
	}

	defaults := DefaultEtcdRegistryConfig()
	if cfg.Prefix == "" {
		cfg.Prefix = defaults.Prefix
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	r := &EtcdRegistry{
		cli:      cli,
		config:   cfg,
		watchers: make([]chan Event, 0),
		cancel:   cancel,
	}

	wch := cli.Watch(clientv3.WithRequireLeader(watchCtx), cfg.Prefix, clientv3.WithPrefix(), clientv3.WithPrevKV())
	go r.watchLoop(watchCtx, wch)

	return r, nil
}

func (r *EtcdRegistry) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.config.OpTimeout)
}

func (r *EtcdRegistry) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *EtcdRegistry) key(id string) string {
	return r.config.Prefix + id
}

// leaseOption grants a fresh lease when a TTL is configured.
func (r *EtcdRegistry) leaseOption(ctx context.Context) ([]clientv3.OpOption, error) {
	if r.config.TTL <= 0 {
		return nil, nil
	}
	ttl := int64((r.config.TTL + time.Second - 1) / time.Second)
	lease, err := r.cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}
	return []clientv3.OpOption{clientv3.WithLease(lease.ID)}, nil
}

// Register adds or replaces a peer entry.
func (r *EtcdRegistry) Register(info PeerInfo) error {
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

	opts, err := r.leaseOption(ctx)
	if err != nil {
		return err
	}
	if _, err := r.cli.Put(ctx, r.key(info.ID), string(data), opts...); err != nil {
		return fmt.Errorf("put to etcd: %w", err)
	}
	return nil
}

// SetStatus updates the liveness of a registered peer and refreshes its
// lease. The write is conditioned on the revision read, and retried once
// if another node updated the entry in between.
func (r *EtcdRegistry) SetStatus(id string, status Status) error {
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

	key := r.key(id)
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := r.cli.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("get from etcd: %w", err)
		}
		if len(resp.Kvs) == 0 {
			return ErrNotFound
		}
		kv := resp.Kvs[0]

		var info PeerInfo
		if err := sonic.Unmarshal(kv.Value, &info); err != nil {
			return fmt.Errorf("unmarshal peer info: %w", err)
		}
		info.Status = status
		info.LastSeen = time.Now()

		data, err := sonic.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal peer info: %w", err)
		}

		txn, err := r.cli.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
			Then(clientv3.OpPut(key, string(data), clientv3.WithIgnoreLease())).
			Commit()
		if err != nil {
			return fmt.Errorf("update etcd: %w", err)
		}
		if !txn.Succeeded {
			continue
		}

		if kv.Lease != 0 {
			if _, err := r.cli.KeepAliveOnce(ctx, clientv3.LeaseID(kv.Lease)); err != nil {
				return fmt.Errorf("refresh lease: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("update etcd: concurrent modification of %s", id)
}

// Deregister removes a peer from the registry.
func (r *EtcdRegistry) Deregister(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if r.isClosed() {
		return ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	resp, err := r.cli.Delete(ctx, r.key(id))
	if err != nil {
		return fmt.Errorf("delete from etcd: %w", err)
	}
	if resp.Deleted == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a peer by ID.
func (r *EtcdRegistry) Get(id string) (*PeerInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	resp, err := r.cli.Get(ctx, r.key(id))
	if err != nil {
		return nil, fmt.Errorf("get from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNotFound
	}

	var info PeerInfo
	if err := sonic.Unmarshal(resp.Kvs[0].Value, &info); err != nil {
		return nil, fmt.Errorf("unmarshal peer info: %w", err)
	}
	return &info, nil
}

// List returns all peers matching the filter.
func (r *EtcdRegistry) List(filter *Filter) ([]PeerInfo, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}

	ctx, cancel := r.opContext()
	defer cancel()

	resp, err := r.cli.Get(ctx, r.config.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list from etcd: %w", err)
	}

	result := []PeerInfo{}
	for _, kv := range resp.Kvs {
		var info PeerInfo
		if err := sonic.Unmarshal(kv.Value, &info); err != nil {
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
func (r *EtcdRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry. The client is left open.
func (r *EtcdRegistry) Close() error {
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
func (r *EtcdRegistry) OnShutdown(ctx context.Context) error {
	return r.Close()
}

// Client returns the underlying etcd client.
func (r *EtcdRegistry) Client() *clientv3.Client {
	return r.cli
}

func (r *EtcdRegistry) watchLoop(ctx context.Context, wch clientv3.WatchChan) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-wch:
			if !ok || resp.Canceled {
				return
			}
			for _, ev := range resp.Events {
				event, ok := r.toEvent(ev)
				if !ok {
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
}

func (r *EtcdRegistry) toEvent(ev *clientv3.Event) (Event, bool) {
	switch ev.Type {
	case clientv3.EventTypePut:
		var info PeerInfo
		if err := sonic.Unmarshal(ev.Kv.Value, &info); err != nil {
			return Event{}, false
		}
		typ := EventUpdated
		if ev.IsCreate() {
			typ = EventAdded
		}
		return Event{Type: typ, Peer: info}, true
	case clientv3.EventTypeDelete:
		peer := PeerInfo{ID: strings.TrimPrefix(string(ev.Kv.Key), r.config.Prefix)}
		if ev.PrevKv != nil {
			var prev PeerInfo
			if err := sonic.Unmarshal(ev.PrevKv.Value, &prev); err == nil {
				peer = prev
			}
		}
		return Event{Type: EventRemoved, Peer: peer}, true
	default:
		return Event{}, false
	}
}
