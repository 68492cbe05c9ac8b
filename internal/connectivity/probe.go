package connectivity

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/syncbox/internal/clock"
)

const probeTimeout = 5 * time.Second

// Probe derives the online state by periodically issuing a HEAD request
// against the remote base URL. A request failure of any kind flips offline;
// any HTTP response counts as reachable.
type Probe struct {
	*Manual
	remoteURL string
	interval  time.Duration
	client    *http.Client
	clock     clock.Clock
	log       *zap.Logger
}

func NewProbe(remoteURL string, interval time.Duration, clk clock.Clock, log *zap.Logger) *Probe {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Probe{
		Manual:    NewManual(false),
		remoteURL: remoteURL,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		clock:     clk,
		log:       log.Named("connectivity"),
	}
}

// Run probes immediately and then on every tick until ctx is cancelled.
func (p *Probe) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.probe(ctx)
		}
	}
}

func (p *Probe) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.remoteURL+"/sync/full", nil)
	if err != nil {
		p.transition(false)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.transition(false)
		return
	}
	resp.Body.Close()
	p.transition(true)
}

func (p *Probe) transition(online bool) {
	if online != p.Online() {
		p.log.Info("connectivity changed", zap.Bool("online", online))
	}
	p.SetOnline(online)
}
