package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy is loaded from the environment. An origin entry may be "*" or carry a
// single leading wildcard label, e.g. "https://*.example.com".
type CORSPolicy struct {
	AllowedOrigins   []string      `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	AllowedMethods   []string      `env:"CORS_ALLOWED_METHODS" env-separator:"," env-default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string      `env:"CORS_ALLOWED_HEADERS" env-separator:"," env-default:"Authorization,Content-Type,X-Request-Id,Idempotency-Key"`
	AllowCredentials bool          `env:"CORS_ALLOW_CREDENTIALS" env-default:"false"`
	MaxAge           time.Duration `env:"CORS_MAX_AGE" env-default:"10m"`
}

type corsRules struct {
	any         bool
	exact       map[string]bool
	suffixes    []originSuffix
	credentials bool
	methods     string
	headers     string
	maxAge      string
}

type originSuffix struct{ scheme, domain string }

func compileCORS(p CORSPolicy) corsRules {
	rules := corsRules{
		exact:       map[string]bool{},
		credentials: p.AllowCredentials,
		methods:     strings.Join(trimAll(p.AllowedMethods), ", "),
		headers:     strings.Join(trimAll(p.AllowedHeaders), ", "),
	}
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		rules.maxAge = strconv.Itoa(secs)
	}
	for _, o := range trimAll(p.AllowedOrigins) {
		switch scheme, host, _ := strings.Cut(o, "://"); {
		case o == "*":
			rules.any = true
		case strings.HasPrefix(host, "*."):
			rules.suffixes = append(rules.suffixes, originSuffix{scheme: strings.ToLower(scheme), domain: strings.ToLower(host[1:])})
		default:
			rules.exact[strings.ToLower(o)] = true
		}
	}
	return rules
}

// allow returns the Access-Control-Allow-Origin value for origin. Credentialed
// policies echo the origin since browsers refuse "*" with credentials.
func (c corsRules) allow(origin string) (string, bool) {
	lower := strings.ToLower(origin)
	if c.exact[lower] {
		return origin, true
	}
	scheme, host, _ := strings.Cut(lower, "://")
	for _, s := range c.suffixes {
		if scheme == s.scheme && strings.HasSuffix(host, s.domain) && len(host) > len(s.domain) {
			return origin, true
		}
	}
	if c.any {
		if c.credentials {
			return origin, true
		}
		return "*", true
	}
	return "", false
}

// WithCORS answers preflight requests and decorates responses for allowed origins.
// With no allowed origins it changes nothing.
func WithCORS(p CORSPolicy) Middleware {
	rules := compileCORS(p)
	if !rules.any && len(rules.exact) == 0 && len(rules.suffixes) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed, ok := rules.allow(origin)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowed)
			if rules.credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				next.ServeHTTP(w, r)
				return
			}

			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			if rules.methods != "" {
				h.Set("Access-Control-Allow-Methods", rules.methods)
			}
			if rules.headers != "" {
				h.Set("Access-Control-Allow-Headers", rules.headers)
			}
			if rules.maxAge != "" {
				h.Set("Access-Control-Max-Age", rules.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
