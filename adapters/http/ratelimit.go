package authhttp

// RateLimiter is the minimal limiter interface used by the adapter.
// Implementations fail open: a limiter error never blocks a request.
type RateLimiter interface {
	AllowNamed(bucket string, key string) (bool, error)
}
