package api

// ratelimit.go holds the per-caller token buckets. Each route class has its
// own rate and burst; keys are the caller's credential when present and the
// remote address otherwise.

import (
	"net"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/oib/AITBC-sub002/metrics"
	"github.com/oib/AITBC-sub002/types"
)

// limitClass selects a bucket configuration.
type limitClass int

const (
	limitDefault limitClass = iota
	limitSendTx
	limitMatch
)

// classLimits are the per-class rate and burst.
var classLimits = map[limitClass]struct {
	rate  rate.Limit
	burst int
}{
	limitDefault: {10, 100},
	limitSendTx:  {50, 500},
	limitMatch:   {50, 100},
}

// A limiterSet lazily creates one token bucket per (class, caller) pair.
type limiterSet struct {
	mu      sync.Mutex
	buckets map[limitClass]map[string]*rate.Limiter
}

func newLimiterSet() *limiterSet {
	return &limiterSet{buckets: make(map[limitClass]map[string]*rate.Limiter)}
}

// allow reports whether the caller has budget left in the class.
func (ls *limiterSet) allow(class limitClass, key string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	perKey, ok := ls.buckets[class]
	if !ok {
		perKey = make(map[string]*rate.Limiter)
		ls.buckets[class] = perKey
	}
	lim, ok := perKey[key]
	if !ok {
		cfg := classLimits[class]
		lim = rate.NewLimiter(cfg.rate, cfg.burst)
		perKey[key] = lim
	}
	return lim.Allow()
}

// limiterKey picks the bucket key for a request: credential first, remote
// host as the fallback.
func limiterKey(req *http.Request) string {
	if key := req.Header.Get("X-API-Key"); key != "" {
		return "key:" + key
	}
	if token, ok := bearerToken(req); ok {
		return "tok:" + token
	}
	if token := req.Header.Get("X-Session-Token"); token != "" {
		return "sess:" + token
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return "ip:" + req.RemoteAddr
	}
	return "ip:" + host
}

// limit wraps a handle with a rate limit class.
func (api *API) limit(class limitClass, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if !api.limits.allow(class, limiterKey(req)) {
			metrics.RateLimited.Inc()
			writeError(w, types.NewCodedError(types.ErrCodeRateLimit, "rate limit exceeded"))
			return
		}
		h(w, req, ps)
	}
}
