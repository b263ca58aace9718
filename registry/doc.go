// Package registry tracks which peers are reachable.
//
// # Overview
//
// Each peer link has a PeerInfo entry whose Status is the outcome of the
// most recent liveness probe. Heartbeat schedulers write to the table
// through LivenessCallbacks; other parts of a node read it, or watch it,
// to route around peers that stopped answering.
//
// # Available Implementations
//
//   - MemoryRegistry: in-memory table for tests and single-node use
//   - NATSRegistry: shared table in a NATS JetStream KV bucket
//   - EtcdRegistry: shared table under an etcd key prefix, one lease per entry
//
// # Basic Usage
//
// Wire a scheduler into the table:
//
//	reg := registry.NewMemoryRegistry(registry.MemoryConfig{})
//	onSuccess, onFailure := registry.LivenessCallbacks(reg, registry.PeerInfo{
//	    ID:        "bob",
//	    Address:   "ws://bob.example:8080/peer",
//	    Transport: "websocket",
//	}, logger)
//
//	sched, _ := heartbeat.NewScheduler(heartbeat.Config{
//	    Endpoint:  ep,
//	    OnSuccess: onSuccess,
//	    OnFailure: onFailure,
//	})
//
// Find reachable peers:
//
//	peers, _ := reg.List(&registry.Filter{Status: registry.StatusActive})
//
// Watch for changes:
//
//	events, _ := reg.Watch()
//	for event := range events {
//	    switch event.Type {
//	    case registry.EventAdded, registry.EventUpdated:
//	        fmt.Printf("%s is %s\n", event.Peer.ID, event.Peer.Status)
//	    case registry.EventRemoved:
//	        fmt.Printf("%s removed\n", event.Peer.ID)
//	    }
//	}
//
// # NATS Registry
//
// Nodes sharing a NATS cluster can share one table:
//
//	reg, _ := registry.NewNATSRegistry(conn, registry.NATSRegistryConfig{
//	    BucketName: "peer-registry",
//	    TTL:        2 * time.Minute,
//	})
//
// # etcd Registry
//
//	cli, _ := registry.NewEtcdClient([]string{"localhost:2379"})
//	reg, _ := registry.NewEtcdRegistry(cli, registry.DefaultEtcdRegistryConfig())
//
// # TTL and Stale Entries
//
// All implementations support TTL-based expiry. Every probe outcome
// rewrites the entry, so a TTL a few probe intervals long drops peers
// whose scheduler stopped.
package registry
