// Package memlimit bounds the aggregate in-memory footprint of cached
// account state across the whole process. When the ceiling is exceeded
// the least-recently-used entries are evicted, except entries pinned by
// an in-flight mutation, which are never removed.
package memlimit

import (
	"container/list"
	"log/slog"
	"sync"
)

type entry struct {
	key     string
	bytes   int64
	pins    int
	elem    *list.Element
	onEvict func(key string)
}

// Limiter is safe for concurrent use. Eviction callbacks run outside the
// limiter's lock so they may re-enter Track/Forget freely.
type Limiter struct {
	mu      sync.Mutex
	ceiling int64
	total   int64
	entries map[string]*entry
	order   *list.List // front = most recently used
	logger  *slog.Logger
}

func New(ceilingBytes int64, logger *slog.Logger) *Limiter {
	return &Limiter{
		ceiling: ceilingBytes,
		entries: make(map[string]*entry),
		order:   list.New(),
		logger:  logger,
	}
}

// Track records (or updates) the footprint of a cached item and marks it
// most recently used. onEvict is invoked, without the limiter lock held,
// if the item is later evicted to get back under the ceiling.
func (l *Limiter) Track(key string, bytes int64, onEvict func(key string)) {
	l.mu.Lock()
	if e, ok := l.entries[key]; ok {
		l.total += bytes - e.bytes
		e.bytes = bytes
		e.onEvict = onEvict
		l.order.MoveToFront(e.elem)
	} else {
		e := &entry{key: key, bytes: bytes, onEvict: onEvict}
		e.elem = l.order.PushFront(e)
		l.entries[key] = e
		l.total += bytes
	}
	evicted := l.collectEvictionsLocked()
	l.mu.Unlock()

	l.runEvictions(evicted)
}

// Touch marks an item most recently used without changing its size.
func (l *Limiter) Touch(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		l.order.MoveToFront(e.elem)
	}
}

// Pin protects an item from eviction while a mutation is in flight.
// Pins nest.
func (l *Limiter) Pin(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[key]; ok {
		e.pins++
	}
}

// Unpin releases a Pin. Any backlog over the ceiling is worked off once
// the item becomes evictable again.
func (l *Limiter) Unpin(key string) {
	l.mu.Lock()
	if e, ok := l.entries[key]; ok && e.pins > 0 {
		e.pins--
	}
	evicted := l.collectEvictionsLocked()
	l.mu.Unlock()

	l.runEvictions(evicted)
}

// Forget stops tracking an item, for callers that drop cache copies for
// their own reasons.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(key)
}

// TotalBytes returns the currently tracked footprint.
func (l *Limiter) TotalBytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Len returns the number of tracked items.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Limiter) removeLocked(key string) {
	if e, ok := l.entries[key]; ok {
		l.order.Remove(e.elem)
		delete(l.entries, key)
		l.total -= e.bytes
	}
}

// collectEvictionsLocked removes LRU entries until the total fits under
// the ceiling, skipping pinned entries. Returns the removed entries so
// their callbacks can run after the lock is released.
func (l *Limiter) collectEvictionsLocked() []*entry {
	if l.ceiling <= 0 || l.total <= l.ceiling {
		return nil
	}

	var evicted []*entry
	for elem := l.order.Back(); elem != nil && l.total > l.ceiling; {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e.pins == 0 {
			l.order.Remove(elem)
			delete(l.entries, e.key)
			l.total -= e.bytes
			evicted = append(evicted, e)
		}
		elem = prev
	}
	return evicted
}

func (l *Limiter) runEvictions(evicted []*entry) {
	for _, e := range evicted {
		if l.logger != nil {
			l.logger.Debug("evicting cached entry over memory ceiling",
				slog.String("key", e.key),
				slog.Int64("bytes", e.bytes))
		}
		if e.onEvict != nil {
			e.onEvict(e.key)
		}
	}
}
