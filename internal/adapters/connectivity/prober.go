// Package connectivity provides reachability probes for the connectivity monitor.
package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 3 * time.Second

var _ ports.Prober = (*HTTPProber)(nil)

// HTTPProber reports the remote reachable when a HEAD request gets any HTTP response.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for url. A non-positive timeout uses DefaultProbeTimeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Probe returns false on any transport error.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ProberFunc adapts a function to ports.Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool {
	return f(ctx)
}
