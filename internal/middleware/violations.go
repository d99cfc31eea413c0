package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ViolationTracker counts protocol violations per connection inside a
// sliding window. A connection that crosses the limit is disconnected by
// the caller; the counter resets when the window elapses.
type ViolationTracker struct {
	mu      sync.Mutex
	entries map[string]*violationInfo
	limit   int
	window  time.Duration
	now     func() time.Time
}

type violationInfo struct {
	count   int
	resetAt time.Time
}

func NewViolationTracker(limit int, window time.Duration) *ViolationTracker {
	return NewViolationTrackerWithNow(limit, window, time.Now)
}

func NewViolationTrackerWithNow(limit int, window time.Duration, now func() time.Time) *ViolationTracker {
	vt := &ViolationTracker{
		entries: make(map[string]*violationInfo),
		limit:   limit,
		window:  window,
		now:     now,
	}
	go vt.cleanup()
	return vt
}

// cleanup evicts expired entries once per window. Keys that never come
// back (one-off REST clients) would otherwise accumulate forever.
func (vt *ViolationTracker) cleanup() {
	if vt.window <= 0 {
		return
	}

	ticker := time.NewTicker(vt.window)
	defer ticker.Stop()

	for range ticker.C {
		vt.evictExpired()
	}
}

func (vt *ViolationTracker) evictExpired() {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	now := vt.now()
	for key, info := range vt.entries {
		if now.After(info.resetAt) {
			delete(vt.entries, key)
		}
	}
}

// Record notes one violation for key and reports whether the connection
// is still within its budget. A false return means the limit was crossed.
func (vt *ViolationTracker) Record(key string) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	now := vt.now()
	info, exists := vt.entries[key]
	if !exists || now.After(info.resetAt) {
		vt.entries[key] = &violationInfo{count: 1, resetAt: now.Add(vt.window)}
		return vt.limit > 1
	}

	info.count++
	return info.count < vt.limit
}

// Forget drops all state for key. Called when the connection closes.
func (vt *ViolationTracker) Forget(key string) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	delete(vt.entries, key)
}

// Allow treats a request as a counted event against the same windowed
// budget. Used to rate limit the REST surface by client address.
func (vt *ViolationTracker) Allow(key string) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	now := vt.now()
	info, exists := vt.entries[key]
	if !exists || now.After(info.resetAt) {
		vt.entries[key] = &violationInfo{count: 1, resetAt: now.Add(vt.window)}
		return true
	}

	if info.count >= vt.limit {
		return false
	}

	info.count++
	return true
}

func RateLimitMiddleware(vt *ViolationTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !vt.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
