// Package ratelimit throttles kiosk actions per client with a token bucket.
package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/promorec/promorec/internal/httputil"
)

const (
	cleanupInterval = 5 * time.Minute
	idleTimeout     = 10 * time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

type Limiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	rate    float64
	burst   float64
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{
		clients: make(map[string]*bucket),
		rate:    requestsPerSecond,
		burst:   float64(burst),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Close stops the background eviction of idle clients.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.done) })
}

// take spends one token for client. When none is left it reports how long
// until the next token is available.
func (l *Limiter) take(client string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.clients[client]
	if !ok {
		l.clients[client] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return true, 0
	}

	b.tokens = math.Min(l.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*l.rate)
	b.lastSeen = now

	if b.tokens < 1 {
		if l.rate <= 0 {
			return false, idleTimeout
		}
		wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
		return false, wait
	}
	b.tokens--
	return true, 0
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *Limiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for client, b := range l.clients {
		if now.Sub(b.lastSeen) > idleTimeout {
			delete(l.clients, client)
		}
	}
}

// ClientIP is the address a request came from: the first X-Forwarded-For
// hop when a proxy set one, else the remote host without its port.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.take(ClientIP(r))
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
