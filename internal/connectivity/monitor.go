// Package connectivity tracks whether the remote authority is reachable and
// fans the transitions out to subscribers. The sync engine consumes the
// signal; it never probes the network itself.
package connectivity

import (
	"sync"
)

// Monitor exposes the current online state and a stream of transitions.
// Subscriber channels carry the latest state only; a slow subscriber sees the
// newest value, not every intermediate flap.
type Monitor interface {
	Online() bool
	SetOnline(online bool)
	Subscribe() <-chan bool
}

// Manual is a Monitor driven entirely by SetOnline. It backs the probe
// monitor and stands alone where the platform delivers its own signal.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   []chan bool
}

func NewManual(initial bool) *Manual {
	return &Manual{online: initial}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manual) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

func (m *Manual) Subscribe() <-chan bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan bool, 1)
	m.subs = append(m.subs, ch)
	return ch
}
