package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const corsMethods = "GET, POST, OPTIONS"

// corsExposed are the response headers storefront clients read.
var corsExposed = strings.Join([]string{
	"X-Request-ID",
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
}, ", ")

// CORSConfig lists the frontends allowed to call the API.
type CORSConfig struct {
	// Origins allowed to call the API. Empty or "*" allows any origin, in
	// which case credentials are never advertised.
	Origins []string
	// Headers the frontend may send, such as the auth token and API key.
	Headers     []string
	Credentials bool
	MaxAge      time.Duration
}

type corsPolicy struct {
	any         bool
	origins     map[string]string // lowercase -> configured
	headers     string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.Origins) == 0,
		origins:     make(map[string]string, len(cfg.Origins)),
		headers:     strings.Join(cfg.Headers, ", "),
		credentials: cfg.Credentials,
	}
	for _, o := range cfg.Origins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}
	return p
}

// allow returns the Access-Control-Allow-Origin value for origin and whether
// credentials may be advertised with it.
func (p *corsPolicy) allow(origin string) (value string, credentials, ok bool) {
	if v, found := p.origins[strings.ToLower(origin)]; found {
		return v, p.credentials, true
	}
	if p.any {
		return "*", false, true
	}
	return "", false, false
}

// CORS answers preflight requests for the API and decorates cross-origin
// responses. Preflights from unknown origins are refused with 403.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if len(p.origins) > 0 {
				h.Add("Vary", "Origin")
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			value, credentials, ok := p.allow(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if !ok {
					writeFailure(w, http.StatusForbidden, "forbidden", "origin not allowed")
					return
				}
				h.Set("Access-Control-Allow-Origin", value)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				if p.headers != "" {
					h.Set("Access-Control-Allow-Headers", p.headers)
				}
				if credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.maxAge != "" {
					h.Set("Access-Control-Max-Age", p.maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if ok {
				h.Set("Access-Control-Allow-Origin", value)
				h.Set("Access-Control-Expose-Headers", corsExposed)
				if credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
