package httpmiddleware

import (
	"context"
	"fmt"
	"hash/maphash"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// KeyFunc names the client a request is counted against. An empty key
// exempts the request from the rule.
type KeyFunc func(*http.Request) string

// RateLimitRule allows at most Max requests per Window for each key on paths
// under PathPrefix.
type RateLimitRule struct {
	Name       string
	PathPrefix string
	Max        int
	Window     time.Duration
	// Key defaults to ClientIP(false).
	Key KeyFunc
}

// RateLimitConfig holds the rules. Rules with a zero Max or Window are
// disabled.
type RateLimitConfig struct {
	Rules []RateLimitRule

	now func() time.Time
}

// slidingWindow approximates a sliding log with the counts of the current
// and previous fixed windows.
type slidingWindow struct {
	start      time.Time
	prev, curr int
}

// hit counts a request at now unless the weighted count has reached limit.
func (sw *slidingWindow) hit(now time.Time, size time.Duration, limit int) (remaining int, reset time.Time, ok bool) {
	start := now.Truncate(size)
	switch gap := start.Sub(sw.start); {
	case gap == 0:
	case gap == size:
		sw.prev, sw.curr = sw.curr, 0
	default:
		sw.prev, sw.curr = 0, 0
	}
	sw.start = start
	reset = start.Add(size)

	weight := 1 - float64(now.Sub(start))/float64(size)
	count := float64(sw.prev)*weight + float64(sw.curr)
	if count >= float64(limit) {
		return 0, reset, false
	}
	sw.curr++
	return max(int(float64(limit)-count-1), 0), reset, true
}

type limiter struct {
	rule    RateLimitRule
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

func (l *limiter) hit(key string, now time.Time) (int, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sw, ok := l.windows[key]
	if !ok {
		sw = &slidingWindow{}
		l.windows[key] = sw
	}
	return sw.hit(now, l.rule.Window, l.rule.Max)
}

// evict drops keys idle for two full windows.
func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, sw := range l.windows {
		if now.Sub(sw.start) >= 2*l.rule.Window {
			delete(l.windows, key)
		}
	}
}

type decision struct {
	rule      *RateLimitRule
	remaining int
	reset     time.Time
	allowed   bool
}

// RateLimit enforces every rule whose prefix matches the request path. The
// X-RateLimit-* headers describe the rule closest to its limit. Stale keys
// are evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	now := cfg.now
	if now == nil {
		now = time.Now
	}

	var (
		limiters []*limiter
		sweep    time.Duration
	)
	for _, rule := range cfg.Rules {
		if rule.Max <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Key == nil {
			rule.Key = ClientIP(false)
		}
		limiters = append(limiters, &limiter{rule: rule, windows: make(map[string]*slidingWindow)})
		if sweep == 0 || 2*rule.Window < sweep {
			sweep = 2 * rule.Window
		}
	}
	if len(limiters) > 0 {
		go func() {
			ticker := time.NewTicker(sweep)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					t := now()
					for _, l := range limiters {
						l.evict(t)
					}
				}
			}
		}()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := now()

			var d *decision
			for _, l := range limiters {
				if !strings.HasPrefix(r.URL.Path, l.rule.PathPrefix) {
					continue
				}
				key := l.rule.Key(r)
				if key == "" {
					continue
				}
				remaining, reset, allowed := l.hit(key, t)
				if d == nil || !allowed || remaining < d.remaining {
					d = &decision{rule: &l.rule, remaining: remaining, reset: reset, allowed: allowed}
				}
				if !allowed {
					break
				}
			}
			if d == nil {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.rule.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
			if !d.allowed {
				wait := max(d.reset.Sub(t), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				zctx.From(r.Context()).Warn("Rate limited",
					zap.String("rule", d.rule.Name),
					zap.String("path", r.URL.Path),
				)
				writeFailure(w, http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("rate limit exceeded for %s", d.rule.Name))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by client address. X-Forwarded-For and X-Real-IP
// are honoured only when trustProxy is set, since clients can forge them.
func ClientIP(trustProxy bool) KeyFunc {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return xri
			}
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}

// Credential keys requests by the first non-empty header among headers.
// Only a digest of the value is retained. Requests carrying none of the
// headers are not counted.
func Credential(headers ...string) KeyFunc {
	seed := maphash.MakeSeed()
	return func(r *http.Request) string {
		for _, name := range headers {
			if v := r.Header.Get(name); v != "" {
				return strconv.FormatUint(maphash.String(seed, v), 36)
			}
		}
		return ""
	}
}
