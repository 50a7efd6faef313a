package retry

import (
	"time"

	"webhook-service/internal/config"
)

const defaultMaxRetries = 3

var defaultTiers = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

// Policy holds the fixed backoff tiers and the retry bound. Attempts beyond
// the tier table reuse the last tier.
type Policy struct {
	maxRetries int
	tiers      []time.Duration
}

func NewPolicy(cfg config.Retry) *Policy {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	tiers := make([]time.Duration, 0, len(cfg.BackoffTiersMs))
	for _, ms := range cfg.BackoffTiersMs {
		tiers = append(tiers, time.Duration(ms)*time.Millisecond)
	}
	if len(tiers) == 0 {
		tiers = defaultTiers
	}

	return &Policy{maxRetries: maxRetries, tiers: tiers}
}

func (p *Policy) MaxRetries() int {
	return p.maxRetries
}

// Exhausted reports whether the given attempt count leaves no retry budget.
func (p *Policy) Exhausted(attempts int) bool {
	return attempts >= p.maxRetries
}

// Backoff returns the delay before the retry following the given attempt
// (1-based).
func (p *Policy) Backoff(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.tiers) {
		idx = len(p.tiers) - 1
	}
	return p.tiers[idx]
}
