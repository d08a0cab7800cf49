package llm

import (
	"context"
	"time"
)

// timeoutCapability wraps a Capability and derives a bounded-deadline
// context for every Generate call, so one slow provider call cannot stall
// a pipeline run indefinitely.
type timeoutCapability struct {
	inner   Capability
	timeout time.Duration
}

// WithTimeout wraps cap so every Generate call is bounded by timeout,
// independent of whatever deadline the caller's context already carries.
func WithTimeout(cap Capability, timeout time.Duration) Capability {
	if timeout <= 0 {
		return cap
	}
	return &timeoutCapability{inner: cap, timeout: timeout}
}

func (c *timeoutCapability) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.inner.Generate(ctx, prompt)
}
