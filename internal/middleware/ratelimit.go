package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatpipe/internal/domain"
	"chatpipe/internal/router"
)

// maxTrackedSenders caps the number of per-sender limiters kept in memory.
const maxTrackedSenders = 4096

// idleAfter is how long a limiter may go unused before it can be pruned.
const idleAfter = 10 * time.Minute

type senderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SenderLimiter is a per-sender token bucket with a bounded key set.
// Safe for concurrent use.
type SenderLimiter struct {
	mu      sync.Mutex
	senders map[string]*senderLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
	maxKeys int
}

// NewSenderLimiter allows perMinute messages per sender with the given burst.
func NewSenderLimiter(perMinute float64, burst int) *SenderLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SenderLimiter{
		senders: make(map[string]*senderLimiter),
		limit:   rate.Limit(perMinute / 60.0),
		burst:   burst,
		now:     time.Now,
		maxKeys: maxTrackedSenders,
	}
}

// Allow reports whether sender may send one more message now.
func (l *SenderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.senders) >= l.maxKeys {
		l.prune(now)
	}

	s, ok := l.senders[sender]
	if !ok {
		s = &senderLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.senders[sender] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// Tracked returns the number of senders currently tracked.
func (l *SenderLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.senders)
}

func (l *SenderLimiter) prune(now time.Time) {
	for k, s := range l.senders {
		if now.Sub(s.lastSeen) >= idleAfter {
			delete(l.senders, k)
		}
	}
	// still full: drop arbitrary entries
	for len(l.senders) >= l.maxKeys {
		for k := range l.senders {
			delete(l.senders, k)
			break
		}
	}
}

// RateLimit suppresses messages from senders that exceed perMinute.
// A non-positive perMinute disables limiting.
func RateLimit(perMinute float64, burst int, logger *slog.Logger) router.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	if perMinute <= 0 {
		return func(_ context.Context, msg *domain.InboundMessage) (*domain.InboundMessage, error) {
			return msg, nil
		}
	}
	return RateLimitWith(NewSenderLimiter(perMinute, burst), logger)
}

// RateLimitWith builds the middleware around an existing limiter.
func RateLimitWith(l *SenderLimiter, logger *slog.Logger) router.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(_ context.Context, msg *domain.InboundMessage) (*domain.InboundMessage, error) {
		if !l.Allow(msg.From) {
			logger.Warn("rate limit exceeded, dropping message", "from", msg.From, "id", msg.ID)
			return nil, nil
		}
		return msg, nil
	}
}
