package registry

import (
	"errors"
	"sync"

	"github.com/vinayprograms/peerkit/logging"
)

// LivenessCallbacks returns an OnSuccess/OnFailure pair for a heartbeat
// scheduler that marks info's peer active or inactive in reg. An entry
// that is missing, because it was never registered or it expired, is
// registered again from info. Status changes are logged; repeated
// outcomes are not. logger may be nil.
func LivenessCallbacks(reg Registry, info PeerInfo, logger *logging.Logger) (onSuccess, onFailure func()) {
	var (
		mu   sync.Mutex
		last Status
	)

	mark := func(status Status) {
		mu.Lock()
		defer mu.Unlock()

		err := reg.SetStatus(info.ID, status)
		if errors.Is(err, ErrNotFound) {
			entry := info
			entry.Status = status
			err = reg.Register(entry)
		}
		if err != nil {
			if logger != nil && !errors.Is(err, ErrClosed) {
				logger.Warn("registry_update_failed", map[string]interface{}{
					"peer_id": info.ID,
					"status":  string(status),
					"error":   err.Error(),
				})
			}
			return
		}

		if status == last {
			return
		}
		last = status
		if logger == nil {
			return
		}
		if status == StatusActive {
			logger.PeerAvailable(info.ID)
		} else {
			logger.PeerUnavailable(info.ID)
		}
	}

	onSuccess = func() { mark(StatusActive) }
	onFailure = func() { mark(StatusInactive) }
	return onSuccess, onFailure
}
