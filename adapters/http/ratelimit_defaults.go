package authhttp

import (
	"time"

	memorylimiter "github.com/open-rails/phonekit/ratelimit/memory"
	redislimiter "github.com/open-rails/phonekit/ratelimit/redis"
)

// Limit configures a named rate limit bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimits returns the built-in per-endpoint limits, enforced
// per client IP. Hosts override via WithRateLimiter.
func DefaultRateLimits() map[string]Limit {
	return map[string]Limit{
		"default": {Limit: 120, Window: time.Minute},

		RLPhoneChallenge: {Limit: 30, Window: 10 * time.Minute},
		RLPhoneRequest:   {Limit: 5, Window: 10 * time.Minute},
		RLPhoneConfirm:   {Limit: 15, Window: 10 * time.Minute},
		RLPhoneResend:    {Limit: 3, Window: 10 * time.Minute},

		RLSession: {Limit: 120, Window: time.Minute},
		RLRefresh: {Limit: 30, Window: 10 * time.Minute},
		RLLogout:  {Limit: 60, Window: 10 * time.Minute},
	}
}

func ToMemoryLimits(in map[string]Limit) map[string]memorylimiter.Limit {
	out := make(map[string]memorylimiter.Limit, len(in))
	for k, v := range in {
		out[k] = memorylimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

func ToRedisLimits(in map[string]Limit) map[string]redislimiter.Limit {
	out := make(map[string]redislimiter.Limit, len(in))
	for k, v := range in {
		out[k] = redislimiter.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}
