// Package healthchecks sends best-effort liveness pings to a
// healthchecks.io style endpoint: one GET when a tick starts and one when
// it finishes successfully. Ping failures never affect the daemon.
package healthchecks

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// Pinger pings a check URL. The zero URL disables it entirely.
type Pinger struct {
	url    string
	client *http.Client
	log    logr.Logger
}

// New creates a pinger for the given check URL. An empty URL yields a
// disabled pinger whose methods are no-ops.
func New(log logr.Logger, url string) *Pinger {
	return &Pinger{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// Start signals that a tick has begun.
func (p *Pinger) Start(ctx context.Context) {
	p.ping(ctx, p.url+"/start")
}

// Success signals that a tick finished successfully.
func (p *Pinger) Success(ctx context.Context) {
	p.ping(ctx, p.url)
}

func (p *Pinger) ping(ctx context.Context, url string) {
	if p.url == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.log.V(1).Info("liveness ping skipped", "url", url, "reason", err.Error())
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.V(1).Info("liveness ping failed", "url", url, "reason", err.Error())
		return
	}
	resp.Body.Close()
}
