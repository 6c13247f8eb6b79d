package archive

import (
	"container/list"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

/*
 * Handle cache.
 *
 * Maps an absolute path to an open append handle. Bounded by capacity with
 * LRU eviction; each entry also expires after ttl without use.
 *
 * Locking:
 *   cache.mu guards the map, the LRU list, refs and lastUsed. It is never
 *   held across file I/O.
 *   handle.mu serializes open and write for one path.
 *
 * An entry is only evicted while refs == 0, so no writer can hold a handle
 * that is being closed. When every entry is busy the cache may briefly
 * exceed capacity; the excess is trimmed on the next release.
 */

const (
	reasonCapacity = "capacity"
	reasonTTL      = "ttl"
	reasonShutdown = "shutdown"
)

// Observer receives cache events. *metrics.Metrics satisfies it.
type Observer interface {
	SetOpenHandles(n int)
	IncEviction(reason string)
}

type nopObserver struct{}

func (nopObserver) SetOpenHandles(int)  {}
func (nopObserver) IncEviction(string) {}

type handle struct {
	path string

	mu   sync.Mutex
	file *os.File

	// guarded by cache.mu
	refs     int
	lastUsed time.Time
	elem     *list.Element
}

func (h *handle) write(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
			return fmt.Errorf("create archive directory: %w", err)
		}
		f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open archive file: %w", err)
		}
		h.file = f
	}
	if _, err := h.file.Write(data); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}

func (h *handle) close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	err := h.file.Close()
	h.file = nil
	return err
}

type handleCache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
	observer Observer
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*handle
	lru     *list.List // front is most recently used
	closed  bool
	active  sync.WaitGroup
}

func newHandleCache(capacity int, ttl time.Duration, now func() time.Time, observer Observer, logger *slog.Logger) *handleCache {
	if observer == nil {
		observer = nopObserver{}
	}
	return &handleCache{
		capacity: capacity,
		ttl:      ttl,
		now:      now,
		observer: observer,
		logger:   logger,
		entries:  make(map[string]*handle),
		lru:      list.New(),
	}
}

type eviction struct {
	h      *handle
	reason string
}

// acquire returns the handle for path with a reference held. The caller
// must call release.
func (c *handleCache) acquire(path string) (*handle, error) {
	var victims []eviction

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrExecutorClosed
	}
	now := c.now()

	h, ok := c.entries[path]
	if ok && h.refs == 0 && c.expired(h, now) {
		c.remove(h)
		victims = append(victims, eviction{h, reasonTTL})
		ok = false
	}
	if !ok {
		h = &handle{path: path}
		h.elem = c.lru.PushFront(h)
		c.entries[path] = h
	} else {
		c.lru.MoveToFront(h.elem)
	}
	h.refs++
	h.lastUsed = now
	c.active.Add(1)

	victims = append(victims, c.trim()...)
	open := len(c.entries)
	c.mu.Unlock()

	c.closeAll(victims)
	c.observer.SetOpenHandles(open)
	return h, nil
}

// release drops the reference taken by acquire.
func (c *handleCache) release(h *handle) {
	c.mu.Lock()
	h.refs--
	h.lastUsed = c.now()
	victims := c.trim()
	open := len(c.entries)
	c.mu.Unlock()
	c.active.Done()

	if len(victims) > 0 {
		c.closeAll(victims)
		c.observer.SetOpenHandles(open)
	}
}

// trim evicts idle entries from the LRU tail until the cache fits.
// Called with c.mu held.
func (c *handleCache) trim() []eviction {
	var victims []eviction
	for e := c.lru.Back(); e != nil && len(c.entries) > c.capacity; {
		h := e.Value.(*handle)
		prev := e.Prev()
		if h.refs == 0 {
			c.remove(h)
			victims = append(victims, eviction{h, reasonCapacity})
		}
		e = prev
	}
	return victims
}

func (c *handleCache) expired(h *handle, now time.Time) bool {
	return now.Sub(h.lastUsed) >= c.ttl
}

func (c *handleCache) remove(h *handle) {
	c.lru.Remove(h.elem)
	h.elem = nil
	delete(c.entries, h.path)
}

// sweep closes every idle entry whose ttl has elapsed and returns the count.
func (c *handleCache) sweep() int {
	var victims []eviction

	c.mu.Lock()
	now := c.now()
	for e := c.lru.Back(); e != nil; {
		h := e.Value.(*handle)
		prev := e.Prev()
		if h.refs == 0 && c.expired(h, now) {
			c.remove(h)
			victims = append(victims, eviction{h, reasonTTL})
		}
		e = prev
	}
	open := len(c.entries)
	c.mu.Unlock()

	if len(victims) > 0 {
		c.closeAll(victims)
		c.observer.SetOpenHandles(open)
	}
	return len(victims)
}

// len returns the number of cached entries.
func (c *handleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// paths returns the cached paths from most to least recently used.
func (c *handleCache) paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.lru.Len())
	for e := c.lru.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*handle).path)
	}
	return out
}

// close rejects new writers, waits for in-flight writes, then closes every
// handle. Safe to call more than once.
func (c *handleCache) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.active.Wait()

	c.mu.Lock()
	victims := make([]eviction, 0, len(c.entries))
	for e := c.lru.Front(); e != nil; e = e.Next() {
		victims = append(victims, eviction{e.Value.(*handle), reasonShutdown})
	}
	c.entries = make(map[string]*handle)
	c.lru.Init()
	c.mu.Unlock()

	err := c.closeAll(victims)
	c.observer.SetOpenHandles(0)
	return err
}

func (c *handleCache) closeAll(victims []eviction) error {
	var first error
	for _, v := range victims {
		if err := v.h.close(); err != nil {
			c.logger.Warn("archive handle close failed", "path", v.h.path, "reason", v.reason, "error", err)
			if first == nil {
				first = fmt.Errorf("close %s: %w", v.h.path, err)
			}
		} else {
			c.logger.Debug("archive handle closed", "path", v.h.path, "reason", v.reason)
		}
		c.observer.IncEviction(v.reason)
	}
	return first
}
