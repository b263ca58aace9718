// Package errors provides the structured error taxonomy used across peerkit.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: the peer link may recover (timeouts, disconnects, closed endpoints)
//   - Permanent: retrying the same packet will not help (invalid packet, no handler)
//   - Internal: bugs and recovered panics
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.ErrCodeNotConnected, "nats link down", errors.WithPeerID("bob"))
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "sending prepare")
//
// Turn a handler failure into the reject sent back to the remote peer:
//
//	reply := errors.ToReject(err, "g.alice")
package errors
