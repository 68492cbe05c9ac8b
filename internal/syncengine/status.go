package syncengine

// Status is the observable projection of engine state consumed by UI
// indicators. LastError is transient: it appears on the notification for the
// failed cycle and is clear again once the engine is back to idle.
type Status struct {
	Online       bool   `json:"online"`
	Syncing      bool   `json:"syncing"`
	LastSyncAt   string `json:"lastSyncAt,omitempty"`
	PendingCount int64  `json:"pendingCount"`
	FailedCount  int64  `json:"failedCount"`
	LastError    string `json:"lastError,omitempty"`
}

// Subscribe returns a channel carrying status snapshots. Channels hold the
// latest snapshot only; slow consumers observe the newest state rather than
// queueing every transition.
func (e *Engine) Subscribe() <-chan Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Status, 1)
	e.subs = append(e.subs, ch)
	return ch
}

// Status returns the current projection.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked("")
}

func (e *Engine) snapshotLocked(lastError string) Status {
	return Status{
		Online:       e.monitor.Online(),
		Syncing:      e.syncing,
		LastSyncAt:   e.lastSyncAt,
		PendingCount: e.pendingCount,
		FailedCount:  e.failedCount,
		LastError:    lastError,
	}
}

func (e *Engine) notify(status Status) {
	e.mu.Lock()
	subs := e.subs
	e.mu.Unlock()
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		ch <- status
	}
}
