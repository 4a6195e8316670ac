package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	minLimit   = 0.1
	throttleBy = 2.0
	recoverBy  = 1.5
	// concurrent requests tend to be refused together; one refusal
	// per quiet period is enough to slow down.
	quietPeriod = time.Second
)

// HostLimiters throttles requests to each registry host
// independently. A host answering `429 Too Many Requests` has its
// limit halved; each success afterwards brings the limit back up
// towards RPS.
type HostLimiters struct {
	RPS    float64
	Burst  int
	Logger log.Logger

	mu    sync.Mutex
	hosts map[string]*hostLimiter
}

type hostLimiter struct {
	*rate.Limiter
	throttledAt time.Time
}

// must be called with mu held
func (l *HostLimiters) get(host string) *hostLimiter {
	if l.hosts == nil {
		l.hosts = map[string]*hostLimiter{}
	}
	h, ok := l.hosts[host]
	if !ok {
		h = &hostLimiter{Limiter: rate.NewLimiter(rate.Limit(l.RPS), l.Burst)}
		l.hosts[host] = h
	}
	return h
}

func (l *HostLimiters) clip(limit float64) float64 {
	if limit < minLimit {
		return minLimit
	}
	if limit > l.RPS {
		return l.RPS
	}
	return limit
}

func (l *HostLimiters) setLimit(host string, h *hostLimiter, limit float64) {
	old := float64(h.Limit())
	limit = l.clip(limit)
	if limit == old {
		return
	}
	h.SetLimit(rate.Limit(limit))
	if l.Logger != nil {
		l.Logger.Log("info", "adjusting rate limit", "host", host, "limit", strconv.FormatFloat(limit, 'f', 2, 64))
	}
}

// Throttle reduces the limit for host, unless it was reduced very
// recently.
func (l *HostLimiters) Throttle(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.get(host)
	now := time.Now()
	if now.Sub(h.throttledAt) < quietPeriod {
		return
	}
	h.throttledAt = now
	l.setLimit(host, h, float64(h.Limit())/throttleBy)
}

// Recover raises the limit for host, up to RPS.
func (l *HostLimiters) Recover(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.hosts[host]; ok {
		l.setLimit(host, h, float64(h.Limit())*recoverBy)
	}
}

// Limit reports the current limit for host, in requests per second.
func (l *HostLimiters) Limit(host string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.get(host).Limit())
}

// RoundTripper wraps rt so that requests wait their turn for host,
// and the limit follows the host's responses.
func (l *HostLimiters) RoundTripper(rt http.RoundTripper, host string) http.RoundTripper {
	l.mu.Lock()
	h := l.get(host)
	l.mu.Unlock()
	return &limitedTransport{
		limiters: l,
		limiter:  h.Limiter,
		host:     host,
		next:     rt,
	}
}

type limitedTransport struct {
	limiters *HostLimiters
	limiter  *rate.Limiter
	host     string
	next     http.RoundTripper
}

func (t *limitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	// Wait fails straight away when the context deadline would pass
	// before the request could go.
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limited")
	}
	res, err := t.next.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		t.limiters.Throttle(t.host)
	case res.StatusCode < http.StatusBadRequest:
		t.limiters.Recover(t.host)
	}
	return res, nil
}
