// ABOUTME: Thread-safe, size-bounded counter of failed login attempts per client
// ABOUTME: Counts each attempt up front and blocks a client once the window's limit is reached

package throttle

import (
	"container/list"
	"sync"
	"time"
)

// attempt stores the attempts counted for one key and its place in the
// eviction order.
type attempt struct {
	first    time.Time
	failures int
	element  *list.Element
}

// Limiter counts attempts per key. A key is blocked once it has maxFailures
// attempts inside window, measured from its first attempt, that were not
// cleared by Reset. The window then has to pass in full before the key is
// allowed again.
//
// A nil *Limiter allows everything.
type Limiter struct {
	mu          sync.Mutex
	attempts    map[string]*attempt
	order       *list.List // keys by most recent attempt, oldest at front
	maxFailures int
	window      time.Duration
	maxKeys     int
	now         func() time.Time
	done        chan struct{}
	closed      bool
}

// New creates a Limiter tracking at most maxKeys keys. When full, the key
// with the oldest attempt is forgotten. A background goroutine drops expired
// keys until Close is called.
func New(maxFailures int, window time.Duration, maxKeys int) *Limiter {
	l := &Limiter{
		attempts:    make(map[string]*attempt),
		order:       list.New(),
		maxFailures: maxFailures,
		window:      window,
		maxKeys:     maxKeys,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Reserve counts an attempt for key and reports whether it may go ahead.
// The attempt is counted before the caller checks the password; a refused
// attempt is not counted. Callers clear the count with Reset after a successful login.
func (l *Limiter) Reserve(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.attempts[key]; ok {
		if l.expired(a) {
			a.first = l.now()
			a.failures = 0
		}
		if a.failures >= l.maxFailures {
			return false
		}
		a.failures++
		l.order.MoveToBack(a.element)
		return true
	}

	if len(l.attempts) >= l.maxKeys {
		l.evictOldest()
	}

	l.attempts[key] = &attempt{
		first:    l.now(),
		failures: 1,
		element:  l.order.PushBack(key),
	}
	return true
}

// Reset forgets key, typically after a successful login.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if a, ok := l.attempts[key]; ok {
		l.order.Remove(a.element)
		delete(l.attempts, key)
	}
}

// size returns the number of tracked keys.
func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// expired must be called with mu held.
func (l *Limiter) expired(a *attempt) bool {
	return l.now().Sub(a.first) >= l.window
}

// evictOldest must be called with mu held.
func (l *Limiter) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.attempts, key)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, a := range l.attempts {
		if l.expired(a) {
			l.order.Remove(a.element)
			delete(l.attempts, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *Limiter) Close() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
