package signal

import (
	"sync"
	"time"
)

// ConnRateLimiter caps websocket connection attempts per remote host over
// a sliding window, so a console stuck in a reconnect loop cannot hammer
// the upgrade endpoint.
type ConnRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewConnRateLimiter(limit int, interval time.Duration) *ConnRateLimiter {
	return &ConnRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *ConnRateLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	// 1. Берем историю адреса
	attempts := rl.history[addr]

	// 2. Убираем старые попытки
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	// 3. Если свежих попыток >= лимита → блок
	if len(fresh) >= rl.limit {
		rl.history[addr] = fresh
		return false
	}

	// 4. Иначе добавить текущую попытку
	fresh = append(fresh, now)
	rl.history[addr] = fresh

	return true
}
