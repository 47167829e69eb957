package safety

import "github.com/vtcode/vtcode/internal/ratelimit"

// ToolLimiter is a thin, per-tool-key wrapper over internal/ratelimit's
// token bucket limiter, exposed here so the tool executor only imports
// internal/safety for all three guardrails (breaker, loop detector, rate
// limit) instead of reaching into an unrelated package.
type ToolLimiter struct {
	limiter *ratelimit.Limiter
}

// NewToolLimiter builds a per-key limiter using the given requests-per-
// second/burst config. A zero Config falls back to ratelimit.DefaultConfig.
func NewToolLimiter(config ratelimit.Config) *ToolLimiter {
	if config.RequestsPerSecond <= 0 {
		config = ratelimit.DefaultConfig()
	}
	return &ToolLimiter{limiter: ratelimit.NewLimiter(config)}
}

// Allow reports whether a call keyed by tool name (or ratelimit.CompositeKey
// for tool+provider) may proceed right now.
func (t *ToolLimiter) Allow(key string) bool {
	return t.limiter.Allow(key)
}

// Status returns the current bucket status for a key, for surfacing in the
// doctor/audit command.
func (t *ToolLimiter) Status(key string) ratelimit.Status {
	return t.limiter.GetStatus(key)
}
