package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter enforces fixed-window request limits per client.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	requestsPerHour   int
	maxRequestsPerDay int

	now       func() time.Time
	clients   map[string]*ClientUsage
	lastSweep time.Time
}

// ClientUsage tracks the current windows of one client.
type ClientUsage struct {
	MinuteCount int
	HourCount   int
	DayCount    int

	MinuteStart time.Time
	HourStart   time.Time
	DayStart    time.Time
}

// NewRateLimiter creates a limiter; a zero limit disables that window.
func NewRateLimiter(requestsPerMinute, requestsPerHour, maxRequestsPerDay int) *RateLimiter {
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		maxRequestsPerDay: maxRequestsPerDay,
		now:               time.Now,
		clients:           make(map[string]*ClientUsage),
	}
}

// Allow records a request from clientID or returns why it was refused.
func (rl *RateLimiter) Allow(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &ClientUsage{MinuteStart: now, HourStart: now, DayStart: startOfDay(now)}
		rl.clients[clientID] = usage
	}
	rl.roll(usage, now)

	if rl.requestsPerMinute > 0 && usage.MinuteCount >= rl.requestsPerMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.requestsPerMinute,
			RetryAfter: usage.MinuteStart.Add(time.Minute).Sub(now),
		}
	}
	if rl.requestsPerHour > 0 && usage.HourCount >= rl.requestsPerHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.requestsPerHour,
			RetryAfter: usage.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if rl.maxRequestsPerDay > 0 && usage.DayCount >= rl.maxRequestsPerDay {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  rl.maxRequestsPerDay,
			Used:   usage.DayCount,
			Resets: usage.DayStart.AddDate(0, 0, 1),
		}
	}

	usage.MinuteCount++
	usage.HourCount++
	usage.DayCount++
	return nil
}

// roll starts new windows for periods that have elapsed.
func (rl *RateLimiter) roll(usage *ClientUsage, now time.Time) {
	if now.Sub(usage.MinuteStart) >= time.Minute {
		usage.MinuteCount = 0
		usage.MinuteStart = now
	}
	if now.Sub(usage.HourStart) >= time.Hour {
		usage.HourCount = 0
		usage.HourStart = now
	}
	if day := startOfDay(now); day.After(usage.DayStart) {
		usage.DayCount = 0
		usage.DayStart = day
	}
}

// sweepInterval is the minimum time between scans for idle clients.
const sweepInterval = time.Minute

// sweep drops clients whose windows have all expired. Such entries would be
// reset on their next request, so removing them changes no decision.
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now
	day := startOfDay(now)
	for id, usage := range rl.clients {
		if now.Sub(usage.MinuteStart) >= time.Minute &&
			now.Sub(usage.HourStart) >= time.Hour &&
			day.After(usage.DayStart) {
			delete(rl.clients, id)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Usage returns a copy of the counters for clientID.
func (rl *RateLimiter) Usage(clientID string) ClientUsage {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if usage, ok := rl.clients[clientID]; ok {
		return *usage
	}
	return ClientUsage{}
}

// RateLimitError represents a minute or hour limit violation.
type RateLimitError struct {
	Type       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError represents a daily quota violation.
type QuotaExceededError struct {
	Type   string
	Limit  int
	Used   int
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
