// Package modelcache keeps loaded inference models resident under a
// memory budget. Entries are borrowed and released around each
// inference call; eviction is least-recently-used and never removes a
// model while a borrow is in flight. Concurrent borrows of an uncached
// model collapse into a single load.
package modelcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"subforge/internal/logging"
	"subforge/internal/services"
)

// Handle is an opaque loaded-model reference. Borrowers use it for one
// inference call and must not retain it afterwards.
type Handle any

// Loader performs the slow external model load.
type Loader interface {
	Load(ctx context.Context, modelKey string) (Handle, error)
}

// Unloader is implemented by loaders that need teardown on eviction.
type Unloader interface {
	Unload(handle Handle)
}

// Approximate resident sizes per model variant, used for eviction
// accounting only.
var modelMemoryBytes = map[string]int64{
	"tiny":     75 << 20,
	"base":     145 << 20,
	"small":    500 << 20,
	"medium":   1500 << 20,
	"large-v2": 3000 << 20,
	"large-v3": 3000 << 20,
}

const defaultModelBytes = 500 << 20

// ApproxMemoryBytes returns the static cost estimate for a model key.
func ApproxMemoryBytes(modelKey string) int64 {
	if size, ok := modelMemoryBytes[modelKey]; ok {
		return size
	}
	return defaultModelBytes
}

type entry struct {
	handle       Handle
	memoryBytes  int64
	lastUsedAt   time.Time
	refCount     int
	evictPending bool
}

type inflight struct {
	done chan struct{}
	err  error
}

// Cache is the shared model cache. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	loader  Loader
	budget  int64
	entries map[string]*entry
	loads   map[string]*inflight
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a cache with the given soft memory budget in bytes.
func New(loader Loader, budgetBytes int64, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		loader:  loader,
		budget:  budgetBytes,
		entries: make(map[string]*entry),
		loads:   make(map[string]*inflight),
		logger:  logger,
		now:     time.Now,
	}
}

// Borrow returns a handle for the model, loading it if necessary. The
// returned overBudget flag reports the soft-budget overrun condition:
// the insert went ahead even though nothing more could be evicted.
// Every successful Borrow must be paired with a Release.
func (c *Cache) Borrow(ctx context.Context, modelKey string) (Handle, bool, error) {
	for {
		c.mu.Lock()
		if ent, ok := c.entries[modelKey]; ok {
			ent.refCount++
			ent.lastUsedAt = c.now()
			ent.evictPending = false
			handle := ent.handle
			c.mu.Unlock()
			return handle, false, nil
		}
		if load, ok := c.loads[modelKey]; ok {
			c.mu.Unlock()
			select {
			case <-load.done:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			if load.err != nil {
				return nil, false, load.err
			}
			// Loaded by another borrower; re-check the entry map.
			continue
		}

		load := &inflight{done: make(chan struct{})}
		c.loads[modelKey] = load
		c.mu.Unlock()

		handle, err := c.loader.Load(ctx, modelKey)

		c.mu.Lock()
		delete(c.loads, modelKey)
		if err != nil {
			load.err = services.Wrap(services.ErrModelLoad, "modelcache", "load", "load model "+modelKey, err)
			close(load.done)
			c.mu.Unlock()
			return nil, false, load.err
		}
		size := ApproxMemoryBytes(modelKey)
		overBudget := c.evictForLocked(size)
		c.entries[modelKey] = &entry{
			handle:      handle,
			memoryBytes: size,
			lastUsedAt:  c.now(),
			refCount:    1,
		}
		close(load.done)
		c.mu.Unlock()

		if overBudget {
			c.logger.Warn("model cache over budget",
				logging.String("model", modelKey),
				logging.Int64("budget_bytes", c.budget),
			)
		}
		return handle, overBudget, nil
	}
}

// Release returns a borrowed handle. An entry flagged for eviction is
// removed once its last borrow is released.
func (c *Cache) Release(modelKey string) {
	c.mu.Lock()
	ent, ok := c.entries[modelKey]
	if !ok {
		c.mu.Unlock()
		return
	}
	if ent.refCount > 0 {
		ent.refCount--
	}
	var evicted Handle
	if ent.refCount == 0 && ent.evictPending {
		evicted = ent.handle
		delete(c.entries, modelKey)
	}
	c.mu.Unlock()

	if evicted != nil {
		c.unload(evicted)
	}
}

// evictForLocked frees room for an insert of the given size. Entries
// with no borrowers go first, oldest use first; pinned entries are
// flagged for eviction on their final release. Returns true when the
// insert still exceeds the budget after all of that.
func (c *Cache) evictForLocked(incoming int64) bool {
	for c.totalLocked()+incoming > c.budget {
		victim := c.oldestIdleLocked()
		if victim == "" {
			break
		}
		handle := c.entries[victim].handle
		delete(c.entries, victim)
		c.unload(handle)
	}
	if c.totalLocked()+incoming <= c.budget {
		return false
	}
	// Nothing idle left to evict; flag pinned entries, oldest first, so
	// they go as soon as their borrows finish, and admit the insert
	// anyway (soft budget).
	remaining := c.totalLocked()
	for _, key := range c.keysByLastUsedLocked() {
		if remaining+incoming <= c.budget {
			break
		}
		ent := c.entries[key]
		if !ent.evictPending {
			ent.evictPending = true
			remaining -= ent.memoryBytes
		}
	}
	return true
}

func (c *Cache) totalLocked() int64 {
	var total int64
	for _, ent := range c.entries {
		total += ent.memoryBytes
	}
	return total
}

func (c *Cache) oldestIdleLocked() string {
	victim := ""
	var oldest time.Time
	for key, ent := range c.entries {
		if ent.refCount != 0 {
			continue
		}
		if victim == "" || ent.lastUsedAt.Before(oldest) {
			victim = key
			oldest = ent.lastUsedAt
		}
	}
	return victim
}

func (c *Cache) keysByLastUsedLocked() []string {
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if c.entries[keys[j]].lastUsedAt.Before(c.entries[keys[i]].lastUsedAt) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

func (c *Cache) unload(handle Handle) {
	if unloader, ok := c.loader.(Unloader); ok {
		unloader.Unload(handle)
	}
}

// EntryStats describes one resident model for diagnostics.
type EntryStats struct {
	ModelKey     string
	MemoryBytes  int64
	RefCount     int
	LastUsedAt   time.Time
	EvictPending bool
}

// Stats reports resident entries and the configured budget.
func (c *Cache) Stats() (entries []EntryStats, totalBytes, budgetBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ent := range c.entries {
		entries = append(entries, EntryStats{
			ModelKey:     key,
			MemoryBytes:  ent.memoryBytes,
			RefCount:     ent.refCount,
			LastUsedAt:   ent.lastUsedAt,
			EvictPending: ent.evictPending,
		})
		totalBytes += ent.memoryBytes
	}
	return entries, totalBytes, c.budget
}
