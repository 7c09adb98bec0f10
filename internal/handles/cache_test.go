package handles_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"textmill/internal/archive"
	"textmill/internal/handles"
)

type fakeArchive struct {
	path       string
	sequential bool
	closed     atomic.Bool
}

func (f *fakeArchive) Path() string                          { return f.path }
func (f *fakeArchive) Format() archive.Format                { return archive.FormatZip }
func (f *fakeArchive) Members() ([]archive.Member, error)    { return nil, nil }
func (f *fakeArchive) Lookup(string) (archive.Member, error) { return nil, io.EOF }
func (f *fakeArchive) Sequential() bool                      { return f.sequential }
func (f *fakeArchive) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeOpener struct {
	mu         sync.Mutex
	opened     map[string][]*fakeArchive
	delay      time.Duration
	sequential bool
	fail       error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(map[string][]*fakeArchive)}
}

func (o *fakeOpener) open(path string) (archive.Archive, error) {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	if o.fail != nil {
		return nil, o.fail
	}
	a := &fakeArchive{path: path, sequential: o.sequential}
	o.mu.Lock()
	o.opened[path] = append(o.opened[path], a)
	o.mu.Unlock()
	return a, nil
}

func (o *fakeOpener) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.opened[path])
}

func (o *fakeOpener) first(path string) *fakeArchive {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened[path][0]
}

func TestAcquireReusesHandle(t *testing.T) {
	opener := newFakeOpener()
	cache := handles.New(2, opener.open, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		lease, err := cache.Acquire(ctx, "/a.zip")
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		lease.Release()
	}
	if opener.count("/a.zip") != 1 {
		t.Fatalf("expected one open, got %d", opener.count("/a.zip"))
	}
	stats := cache.Stats()
	if stats.Opens != 1 || stats.Hits != 2 || stats.Open != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEvictionClosesIdleHandles(t *testing.T) {
	opener := newFakeOpener()
	cache := handles.New(2, opener.open, nil)
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		lease, err := cache.Acquire(ctx, path)
		if err != nil {
			t.Fatalf("Acquire(%s): %v", path, err)
		}
		lease.Release()
	}
	if !opener.first("/a").closed.Load() {
		t.Fatal("expected least recently used handle to be closed")
	}
	if opener.first("/b").closed.Load() || opener.first("/c").closed.Load() {
		t.Fatal("expected recent handles to stay open")
	}
	if stats := cache.Stats(); stats.Evictions != 1 || stats.Open != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEvictionWaitsForLeaseRelease(t *testing.T) {
	opener := newFakeOpener()
	cache := handles.New(1, opener.open, nil)
	ctx := context.Background()

	held, err := cache.Acquire(ctx, "/a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	other, err := cache.Acquire(ctx, "/b")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	other.Release()

	if opener.first("/a").closed.Load() {
		t.Fatal("evicted handle closed while still leased")
	}
	held.Release()
	if !opener.first("/a").closed.Load() {
		t.Fatal("evicted handle should close on final release")
	}
}

func TestReacquireAfterEvictionReusesLeasedHandle(t *testing.T) {
	opener := newFakeOpener()
	opener.sequential = true
	cache := handles.New(1, opener.open, nil)
	ctx := context.Background()

	held, err := cache.Acquire(ctx, "/a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// /b evicts /a while it is still leased.
	other, err := cache.Acquire(ctx, "/b")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	other.Release()

	acquired := make(chan *handles.Lease, 1)
	go func() {
		lease, err := cache.Acquire(ctx, "/a")
		if err != nil {
			t.Errorf("Acquire: %v", err)
			close(acquired)
			return
		}
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatal("second lease on a sequential archive must wait for the first")
	case <-time.After(30 * time.Millisecond):
	}
	if got := opener.count("/a"); got != 1 {
		t.Fatalf("expected a single handle for /a, opened %d", got)
	}

	held.Release()
	again := <-acquired
	if again == nil {
		t.FailNow()
	}
	if again.Archive() != held.Archive() {
		t.Fatal("expected the revived lease to share the original handle")
	}
	if opener.first("/a").closed.Load() {
		t.Fatal("revived handle closed while leased")
	}
	if stats := cache.Stats(); stats.Opens != 2 || stats.Open != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	again.Release()
}

func TestConcurrentAcquireOpensOnce(t *testing.T) {
	opener := newFakeOpener()
	opener.delay = 20 * time.Millisecond
	cache := handles.New(4, opener.open, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := cache.Acquire(ctx, "/shared.zip")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			lease.Release()
		}()
	}
	wg.Wait()
	if opener.count("/shared.zip") != 1 {
		t.Fatalf("expected a single open, got %d", opener.count("/shared.zip"))
	}
}

func TestSequentialArchivesSerializeLeases(t *testing.T) {
	opener := newFakeOpener()
	opener.sequential = true
	cache := handles.New(2, opener.open, nil)
	ctx := context.Background()

	first, err := cache.Acquire(ctx, "/a.tar.gz")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan *handles.Lease)
	go func() {
		lease, err := cache.Acquire(ctx, "/a.tar.gz")
		if err != nil {
			t.Errorf("Acquire: %v", err)
			close(acquired)
			return
		}
		acquired <- lease
	}()

	select {
	case <-acquired:
		t.Fatal("second lease granted while first is held")
	case <-time.After(50 * time.Millisecond):
	}

	other, err := cache.Acquire(ctx, "/b.tar.gz")
	if err != nil {
		t.Fatalf("different archive should not block: %v", err)
	}
	other.Release()

	first.Release()
	select {
	case lease := <-acquired:
		if lease != nil {
			lease.Release()
		}
	case <-time.After(time.Second):
		t.Fatal("second lease never granted")
	}
}

func TestSequentialAcquireHonoursContext(t *testing.T) {
	opener := newFakeOpener()
	opener.sequential = true
	cache := handles.New(2, opener.open, nil)

	held, err := cache.Acquire(context.Background(), "/a.tar.xz")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cache.Acquire(ctx, "/a.tar.xz"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOpenFailureIsNotCached(t *testing.T) {
	opener := newFakeOpener()
	opener.fail = errors.New("boom")
	cache := handles.New(2, opener.open, nil)
	if _, err := cache.Acquire(context.Background(), "/bad.zip"); err == nil {
		t.Fatal("expected open error")
	}
	opener.fail = nil
	lease, err := cache.Acquire(context.Background(), "/bad.zip")
	if err != nil {
		t.Fatalf("expected retry to open: %v", err)
	}
	lease.Release()
}

func TestCloseClosesEverything(t *testing.T) {
	opener := newFakeOpener()
	cache := handles.New(4, opener.open, nil)
	ctx := context.Background()

	idle, _ := cache.Acquire(ctx, "/idle")
	idle.Release()
	busy, _ := cache.Acquire(ctx, "/busy")

	if err := cache.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !opener.first("/idle").closed.Load() {
		t.Fatal("idle handle should close immediately")
	}
	if opener.first("/busy").closed.Load() {
		t.Fatal("leased handle must stay open until released")
	}
	busy.Release()
	busy.Release()
	if !opener.first("/busy").closed.Load() {
		t.Fatal("leased handle should close on release")
	}
	if _, err := cache.Acquire(ctx, "/idle"); !errors.Is(err, handles.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
