// Package health holds the connectivity probe and the state tracker that
// turns probe results into online/offline transitions.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/driftline/internal/errclass"
)

// DefaultProbeTimeout bounds one round trip against the remote store.
const DefaultProbeTimeout = 10 * time.Second

// Pinger is the slice of the remote store the probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeResult is the structured outcome of one connectivity check.
type ProbeResult struct {
	Healthy bool
	Latency time.Duration
	Detail  string
}

// Probe performs bounded-timeout round trips against the remote store.
type Probe struct {
	pinger  Pinger
	timeout time.Duration
}

// NewProbe creates a probe. A non-positive timeout uses the default.
func NewProbe(pinger Pinger, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Probe{pinger: pinger, timeout: timeout}
}

// Check runs one probe. It never returns an error: timeouts and transport
// failures come back as healthy=false with a classified detail.
func (p *Probe) Check(ctx context.Context) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(probeCtx)
	latency := time.Since(start)

	if err == nil {
		return ProbeResult{Healthy: true, Latency: latency, Detail: "ok"}
	}

	detail := fmt.Sprintf("%s: %v", errclass.ClassOf(err), err)
	if probeCtx.Err() == context.DeadlineExceeded {
		detail = fmt.Sprintf("timeout after %s", p.timeout)
	}
	return ProbeResult{Healthy: false, Latency: latency, Detail: detail}
}
