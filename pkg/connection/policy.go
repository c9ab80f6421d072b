package connection

import (
	"sync"
	"time"
)

// DefaultReconnectDelay is the pause between a close and the next attempt.
const DefaultReconnectDelay = 5 * time.Second

// Policy schedules reconnection attempts with a fixed delay.
//
// Attempts are unlimited unless MaxAttempts is positive.
type Policy struct {
	mu sync.Mutex

	delay       time.Duration
	maxAttempts int

	attempts int
}

// PolicyConfig customizes a Policy.
type PolicyConfig struct {
	// Delay between a close and the next attempt. Zero selects
	// DefaultReconnectDelay.
	Delay time.Duration

	// MaxAttempts bounds consecutive failed attempts. Zero retries forever.
	MaxAttempts int
}

// NewPolicy creates a policy with the default delay that retries forever.
func NewPolicy() *Policy {
	return NewPolicyWithConfig(PolicyConfig{})
}

// NewPolicyWithConfig creates a policy with custom settings.
func NewPolicyWithConfig(cfg PolicyConfig) *Policy {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultReconnectDelay
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	return &Policy{
		delay:       cfg.Delay,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Next returns the delay before the next attempt and advances the attempt
// counter. ok is false once MaxAttempts is exhausted.
func (p *Policy) Next() (delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxAttempts > 0 && p.attempts >= p.maxAttempts {
		return 0, false
	}
	p.attempts++
	return p.delay, true
}

// Reset clears the attempt counter. Call this after a successful connection.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
}

// Attempts returns the number of attempts since the last reset.
func (p *Policy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// MaxAttempts returns the configured attempt bound (0 = unlimited).
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}
