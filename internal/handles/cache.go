package handles

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"textmill/internal/archive"
	"textmill/internal/logging"
)

// Opener opens an archive by path.
type Opener func(path string) (archive.Archive, error)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("handle cache closed")

// Stats summarizes cache activity.
type Stats struct {
	Opens     int `json:"opens"`
	Hits      int `json:"hits"`
	Evictions int `json:"evictions"`
	Open      int `json:"open"`
}

type entry struct {
	path    string
	arch    archive.Archive
	refs    int
	evicted bool
	// readLock serializes reads of sequential archives.
	readLock chan struct{}
}

type inflight struct {
	done chan struct{}
	err  error
}

// Cache is a bounded LRU of open archive handles.
type Cache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[string, *entry]
	leased    map[string]*entry
	opening   map[string]*inflight
	open      Opener
	logger    *slog.Logger
	stats     Stats
	closed    bool
	closeErrs []error
}

// New creates a cache holding up to capacity idle handles. A nil opener uses
// archive.Open.
func New(capacity int, opener Opener, logger *slog.Logger) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	if opener == nil {
		opener = archive.Open
	}
	c := &Cache{
		leased:  make(map[string]*entry),
		opening: make(map[string]*inflight),
		open:    opener,
		logger:  logging.NewComponentLogger(logger, "handles"),
	}
	lru, err := simplelru.NewLRU[string, *entry](capacity, c.onEvict)
	if err != nil {
		// NewLRU only fails for non-positive sizes.
		panic(err)
	}
	c.lru = lru
	return c
}

// onEvict runs with c.mu held. A handle evicted while leased stays reachable
// through c.leased so the next Acquire revives it instead of opening again.
func (c *Cache) onEvict(path string, e *entry) {
	e.evicted = true
	if !c.closed {
		c.stats.Evictions++
	}
	if e.refs == 0 {
		c.closeEntry(e)
		return
	}
	c.leased[path] = e
}

func (c *Cache) closeEntry(e *entry) {
	if err := e.arch.Close(); err != nil {
		c.closeErrs = append(c.closeErrs, err)
		c.logger.Debug("archive close failed", logging.String(logging.FieldArchive, e.path), logging.Error(err))
	}
}

// Acquire returns a lease on the handle for path, opening the archive when it
// is not cached. Concurrent callers for the same path share a single open.
// Leases on sequential archives block until earlier leases are released.
func (c *Cache) Acquire(ctx context.Context, path string) (*Lease, error) {
	e, err := c.reference(ctx, path)
	if err != nil {
		return nil, err
	}
	if e.readLock != nil {
		select {
		case e.readLock <- struct{}{}:
		case <-ctx.Done():
			c.unreference(e)
			return nil, ctx.Err()
		}
	}
	return &Lease{cache: c, entry: e}, nil
}

func (c *Cache) reference(ctx context.Context, path string) (*entry, error) {
	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		if e, ok := c.lru.Get(path); ok {
			e.refs++
			c.stats.Hits++
			c.mu.Unlock()
			return e, nil
		}
		if e, ok := c.leased[path]; ok {
			delete(c.leased, path)
			e.evicted = false
			e.refs++
			c.stats.Hits++
			c.lru.Add(path, e)
			c.mu.Unlock()
			return e, nil
		}
		pending, ok := c.opening[path]
		if !ok {
			break
		}
		c.mu.Unlock()
		select {
		case <-pending.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if pending.err != nil {
			return nil, pending.err
		}
		c.mu.Lock()
	}

	pending := &inflight{done: make(chan struct{})}
	c.opening[path] = pending
	c.mu.Unlock()

	arch, err := c.open(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.opening, path)
	if err != nil {
		pending.err = err
		close(pending.done)
		return nil, err
	}
	e := &entry{path: path, arch: arch, refs: 1}
	if arch.Sequential() {
		e.readLock = make(chan struct{}, 1)
	}
	if c.closed {
		e.evicted = true
	} else {
		c.lru.Add(path, e)
	}
	c.stats.Opens++
	close(pending.done)
	c.logger.Debug("archive opened",
		logging.String(logging.FieldArchive, path),
		logging.String("format", string(arch.Format())),
	)
	return e, nil
}

func (c *Cache) unreference(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.evicted {
		if c.leased[e.path] == e {
			delete(c.leased, e.path)
		}
		c.closeEntry(e)
	}
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Open = c.lru.Len() + len(c.leased)
	return s
}

// Close evicts every handle. Handles still leased close when released.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.lru.Purge()
	err := errors.Join(c.closeErrs...)
	c.closeErrs = nil
	return err
}

// Lease grants use of a cached archive until Release.
type Lease struct {
	cache *Cache
	entry *entry
	once  sync.Once
}

// Archive returns the leased handle.
func (l *Lease) Archive() archive.Archive {
	return l.entry.arch
}

// Release returns the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.entry.readLock != nil {
			<-l.entry.readLock
		}
		l.cache.unreference(l.entry)
	})
}
