// Package retry provides the one retry policy shared by the remote store
// and the artifact store. Exponential backoff is delegated to
// cenkalti/backoff; this package adds the transient/permanent gate and
// attempt accounting.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/driftline/driftline/internal/errclass"
)

// Policy describes bounded exponential backoff.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // initial wait between attempts
	Multiplier  float64       // growth factor per attempt
	Cap         time.Duration // upper bound on a single wait
}

// Default returns the policy used when configuration is silent.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
		Cap:         10 * time.Second,
	}
}

// Normalized returns p with zero fields replaced by defaults.
func (p Policy) Normalized() Policy {
	d := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	return p
}

// newBackOff builds a fresh BackOff instance. BackOff implementations are
// stateful; never share one across operations.
func (p Policy) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.Cap
	bo.MaxElapsedTime = 0 // attempts are the bound, not wall time
	return backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1))
}

// Do runs op, retrying transient failures up to MaxAttempts. Permanent and
// unknown classifications stop immediately. It returns the attempt count
// alongside the final error.
func (p Policy) Do(ctx context.Context, op func() error) (int, error) {
	p = p.Normalized()

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errclass.ClassOf(err) == errclass.Transient {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(p.newBackOff(), ctx))

	return attempts, err
}
