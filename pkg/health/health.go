// Package health serves the /livez and /readyz endpoints of the order API.
//
// Checks run on a ticker in the background and the endpoints only report
// their last results. A check turns unhealthy after three consecutive
// failures and recovers on the first success.
package health

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

const failureThreshold = 3

// CheckFunc returns nil while the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// State is the serving lifecycle reported by readiness.
type State int32

const (
	Starting State = iota
	Serving
	Draining
)

func (s State) String() string {
	switch s {
	case Serving:
		return "serving"
	case Draining:
		return "draining"
	default:
		return "starting"
	}
}

type result struct {
	healthy bool
	err     error
}

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	// fails is owned by the goroutine running the check.
	fails  int
	result atomic.Pointer[result]
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	if err == nil {
		c.fails = 0
		c.result.Store(&result{healthy: true})
		return
	}
	c.fails++
	c.result.Store(&result{healthy: c.fails < failureThreshold && c.last().healthy, err: err})
}

// last returns the latest result. A check that has not run yet is healthy.
func (c *check) last() result {
	if r := c.result.Load(); r != nil {
		return *r
	}
	return result{healthy: true}
}

// Health tracks liveness and readiness checks along with the serving state.
type Health struct {
	state atomic.Int32

	mu     sync.Mutex
	live   []*check
	ready  []*check
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check failing /livez. Must be called before
// Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, &check{name: name, timeout: timeout, fn: fn})
}

// AddReadinessCheck registers a check failing /readyz. Must be called before
// Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, &check{name: name, timeout: timeout, fn: fn})
}

// Start runs every check immediately and then once per interval until Stop
// or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, h.cancel = context.WithCancel(ctx)
	for _, c := range slices.Concat(h.live, h.ready) {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				c.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the checks and waits for running ones to return.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

// Serve marks the server as accepting traffic.
func (h *Health) Serve() { h.state.Store(int32(Serving)) }

// Drain fails readiness so load balancers stop routing before shutdown.
func (h *Health) Drain() { h.state.Store(int32(Draining)) }

func (h *Health) State() State { return State(h.state.Load()) }

// Register mounts GET /livez and GET /readyz.
func (h *Health) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /livez", h.serveLive)
	mux.HandleFunc("GET /readyz", h.serveReady)
}

func (h *Health) serveLive(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	checks := slices.Clone(h.live)
	h.mu.Unlock()

	report(w, true, "", checks)
}

func (h *Health) serveReady(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	checks := slices.Clone(h.ready)
	h.mu.Unlock()

	state := h.State()
	report(w, state == Serving, state.String(), checks)
}

// report writes {"status":"ok"|"unavailable","state":...,"checks":{name:"ok"|error}}
// with checks sorted by name. The status is 503 unless ok and every check is
// healthy.
func report(w http.ResponseWriter, ok bool, state string, checks []*check) {
	slices.SortFunc(checks, func(a, b *check) int { return cmp.Compare(a.name, b.name) })

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("checks")
	e.ObjStart()
	for _, c := range checks {
		r := c.last()
		e.FieldStart(c.name)
		if r.err != nil {
			e.Str(r.err.Error())
		} else {
			e.Str("ok")
		}
		ok = ok && r.healthy
	}
	e.ObjEnd()
	if state != "" {
		e.FieldStart("state")
		e.Str(state)
	}
	e.FieldStart("status")
	status := http.StatusOK
	if ok {
		e.Str("ok")
	} else {
		e.Str("unavailable")
		status = http.StatusServiceUnavailable
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
