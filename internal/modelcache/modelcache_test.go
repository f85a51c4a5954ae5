package modelcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subforge/internal/modelcache"
	"subforge/internal/services"
)

type fakeLoader struct {
	mu       sync.Mutex
	loads    map[string]int
	unloads  []string
	failWith error
	delay    time.Duration
	total    atomic.Int64
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{loads: make(map[string]int)}
}

func (l *fakeLoader) Load(ctx context.Context, modelKey string) (modelcache.Handle, error) {
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWith != nil {
		return nil, l.failWith
	}
	l.loads[modelKey]++
	l.total.Add(1)
	return "handle-" + modelKey, nil
}

func (l *fakeLoader) Unload(handle modelcache.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unloads = append(l.unloads, handle.(string))
}

func (l *fakeLoader) loadCount(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads[key]
}

func TestBorrowLoadsOnceAndReusesEntry(t *testing.T) {
	loader := newFakeLoader()
	cache := modelcache.New(loader, 8<<30, nil)

	h1, over, err := cache.Borrow(context.Background(), "small")
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if over {
		t.Fatal("unexpected over-budget signal")
	}
	h2, _, err := cache.Borrow(context.Background(), "small")
	if err != nil {
		t.Fatalf("second Borrow failed: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected shared handle, got %v vs %v", h1, h2)
	}
	if got := loader.loadCount("small"); got != 1 {
		t.Fatalf("expected exactly one load, got %d", got)
	}
	cache.Release("small")
	cache.Release("small")
}

func TestThunderingHerdCollapsesToOneLoad(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 20 * time.Millisecond
	cache := modelcache.New(loader, 8<<30, nil)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.Borrow(context.Background(), "small")
			errs <- err
			if err == nil {
				cache.Release("small")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Borrow failed: %v", err)
		}
	}
	if got := loader.total.Load(); got != 1 {
		t.Fatalf("expected exactly one external load, got %d", got)
	}
}

func TestLoadFailurePropagatesToAllWaiters(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 20 * time.Millisecond
	loader.failWith = errors.New("no such model")
	cache := modelcache.New(loader, 8<<30, nil)

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cache.Borrow(context.Background(), "small")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, services.ErrModelLoad) {
			t.Fatalf("expected model load error, got %v", err)
		}
	}
	// A later borrow retries the load rather than caching the failure.
	loader.mu.Lock()
	loader.failWith = nil
	loader.mu.Unlock()
	if _, _, err := cache.Borrow(context.Background(), "small"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	cache.Release("small")
}

func TestLRUEvictionOfIdleEntries(t *testing.T) {
	loader := newFakeLoader()
	// Budget fits two small models (500 MiB each) but not three.
	cache := modelcache.New(loader, 1100<<20, nil)

	borrowRelease := func(key string) {
		t.Helper()
		if _, _, err := cache.Borrow(context.Background(), key); err != nil {
			t.Fatalf("Borrow %s failed: %v", key, err)
		}
		cache.Release(key)
	}

	borrowRelease("small")
	borrowRelease("unknown-a") // default 500 MiB
	borrowRelease("small")     // bump small's recency
	borrowRelease("unknown-b") // must evict unknown-a, the LRU idle entry

	entries, total, budget := cache.Stats()
	if total > budget {
		t.Fatalf("idle cache over budget: total=%d budget=%d", total, budget)
	}
	for _, ent := range entries {
		if ent.ModelKey == "unknown-a" {
			t.Fatalf("expected unknown-a evicted, still resident: %+v", entries)
		}
	}
	loader.mu.Lock()
	unloads := append([]string(nil), loader.unloads...)
	loader.mu.Unlock()
	if len(unloads) != 1 || unloads[0] != "handle-unknown-a" {
		t.Fatalf("expected unload of unknown-a, got %v", unloads)
	}
}

func TestPinnedEntrySurvivesUntilReleaseThenEvicts(t *testing.T) {
	loader := newFakeLoader()
	// Budget only fits one medium model.
	cache := modelcache.New(loader, 1600<<20, nil)

	if _, _, err := cache.Borrow(context.Background(), "medium"); err != nil {
		t.Fatalf("Borrow medium failed: %v", err)
	}
	// Insert while medium is pinned: soft overrun, medium flagged.
	_, over, err := cache.Borrow(context.Background(), "small")
	if err != nil {
		t.Fatalf("Borrow small failed: %v", err)
	}
	if !over {
		t.Fatal("expected over-budget signal while pinned entry blocks eviction")
	}
	entries, _, _ := cache.Stats()
	foundPinned := false
	for _, ent := range entries {
		if ent.ModelKey == "medium" {
			foundPinned = true
			if !ent.EvictPending {
				t.Fatalf("expected medium flagged for eviction: %+v", ent)
			}
		}
	}
	if !foundPinned {
		t.Fatal("pinned entry was evicted while borrowed")
	}

	cache.Release("medium")
	entries, _, _ = cache.Stats()
	for _, ent := range entries {
		if ent.ModelKey == "medium" {
			t.Fatalf("expected medium evicted after release: %+v", entries)
		}
	}
	cache.Release("small")
}

func TestBorrowHonorsContextCancellationWhileWaiting(t *testing.T) {
	loader := newFakeLoader()
	loader.delay = 200 * time.Millisecond
	cache := modelcache.New(loader, 8<<30, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		if _, _, err := cache.Borrow(context.Background(), "small"); err == nil {
			cache.Release("small")
		}
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := cache.Borrow(ctx, "small")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
