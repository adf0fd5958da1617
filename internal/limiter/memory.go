package limiter

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	fails        int
	updatedAt    time.Time
	blockedUntil time.Time
}

// Memory is an in-process limiter with the same window and lockout rules as PG.
type Memory struct {
	mu       sync.Mutex
	m        map[string]*entry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	return &Memory{m: map[string]*entry{}, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (l *Memory) WithClock(now func() time.Time) *Memory {
	l.now = now
	return l
}

func memKey(key string, ipHash []byte) string { return key + "\x00" + string(ipHash) }

// Allow reports whether an attempt is currently allowed.
func (l *Memory) Allow(_ context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[memKey(key, ipHash)]
	if !ok {
		return true, 0, nil
	}
	if now := l.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the key.
func (l *Memory) Success(_ context.Context, key string, ipHash []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, memKey(key, ipHash))
	return nil
}

// Failure counts a failed attempt within the window and blocks at the threshold.
func (l *Memory) Failure(_ context.Context, key string, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := memKey(key, ipHash)
	e, ok := l.m[k]
	if !ok || now.Sub(e.updatedAt) > l.window {
		e = &entry{}
		l.m[k] = e
	}
	e.fails++
	e.updatedAt = now
	if e.fails >= l.maxFails {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
