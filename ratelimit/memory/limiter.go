// Package memorylimiter implements per-bucket fixed-window rate limits in
// process memory.
package memorylimiter

import (
	"sync"
	"time"
)

// Limit configures one named bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter counts hits per key inside a fixed window. Buckets without an
// explicit limit fall back to the "default" bucket; if that is absent too,
// the limiter allows everything for that bucket.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]*window
}

func New(limits map[string]Limit) *Limiter {
	if limits == nil {
		limits = map[string]Limit{}
	}
	return &Limiter{limits: limits, windows: make(map[string]*window)}
}

// AllowNamed reports whether the key may proceed under the bucket's limit.
func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= lim.Window {
		l.windows[key] = &window{start: now, count: 1}
		l.dropStale(now)
		return true, nil
	}
	if w.count >= lim.Limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// dropStale removes long-dead windows. Called with the lock held; only
// runs once the map has grown past a threshold.
func (l *Limiter) dropStale(now time.Time) {
	if len(l.windows) < 4096 {
		return
	}
	for k, w := range l.windows {
		if now.Sub(w.start) >= 2*time.Hour {
			delete(l.windows, k)
		}
	}
}
