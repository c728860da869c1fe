package sutra

import (
	"sync"
	"time"

	"github.com/sutra-kernel/sutra/core"
)

// Watcher is invoked synchronously on every successful write to the region
// it watches, receiving (key, value, version). A watcher error or panic is
// swallowed via core.InvokeCallback and never affects the write (§4.4).
type Watcher func(key string, value interface{}, version int64) error

// region is a named, versioned key-value store with access control.
type region struct {
	name      string
	owner     string
	data      map[string]interface{}
	version   int64
	access    map[string]struct{} // agent IDs, or "*" for public write
	createdAt time.Time
	updatedAt time.Time
	ttl       time.Duration // zero means no expiry
	maxSize   int           // zero means unbounded
	watchers  map[int]Watcher
	nextWatch int
}

func (r *region) canWrite(agentID string) bool {
	if _, ok := r.access[Broadcast]; ok {
		return true
	}
	_, ok := r.access[agentID]
	return ok
}

func (r *region) expired(now time.Time) bool {
	if r.ttl <= 0 {
		return false
	}
	return now.After(r.updatedAt.Add(r.ttl))
}

// Absent is the zero value of core.Option[any], returned by Read for a
// missing key (§4.4: "returns the current value or an absent marker").
var Absent = core.None[interface{}]()

// SharedMemoryManager implements spec.md §4.4: versioned key-value regions
// with ACLs, TTL, watchers, plus result collectors.
type SharedMemoryManager struct {
	mu         sync.Mutex
	regions    map[string]*region
	collectors map[string]*ResultCollector
	log        core.Logger
	disposed   bool
}

// NewSharedMemoryManager constructs an empty SharedMemoryManager.
func NewSharedMemoryManager(log core.Logger) *SharedMemoryManager {
	if log == nil {
		log = core.NopLogger()
	}
	return &SharedMemoryManager{
		regions:    make(map[string]*region),
		collectors: make(map[string]*ResultCollector),
		log:        log,
	}
}

// RegionOptions configures CreateRegion beyond the required owner and
// access list.
type RegionOptions struct {
	TTL     time.Duration
	MaxSize int
}

// CreateRegion registers a new region. accessList = ["*"] means any agent
// may write. Fails with Duplicate if name already exists.
func (m *SharedMemoryManager) CreateRegion(name, owner string, accessList []string, opts RegionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return core.NewErrorf(core.KindDisposed, "shared memory manager destroyed")
	}
	if _, exists := m.regions[name]; exists {
		return core.NewErrorf(core.KindDuplicate, "region %q already exists", name)
	}
	access := make(map[string]struct{}, len(accessList))
	for _, a := range accessList {
		access[a] = struct{}{}
	}
	now := time.Now()
	m.regions[name] = &region{
		name: name, owner: owner, data: make(map[string]interface{}),
		access: access, createdAt: now, updatedAt: now,
		ttl: opts.TTL, maxSize: opts.MaxSize, watchers: make(map[int]Watcher),
	}
	return nil
}

// Read returns the current value at region/key, or Absent.
func (m *SharedMemoryManager) Read(regionName, key string) (core.Option[interface{}], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, exists := m.regions[regionName]
	if !exists {
		return Absent, core.NewErrorf(core.KindUnknown, "no region named %q", regionName)
	}
	v, ok := r.data[key]
	if !ok {
		return Absent, nil
	}
	return core.Some(v), nil
}

// Write sets region/key to value on behalf of agentID. Fails with Unknown,
// Denied (no write access), or Full (new key would exceed MaxSize). On
// success it increments version by exactly 1, sets updatedAt, and invokes
// every watcher synchronously and outside any lock.
func (m *SharedMemoryManager) Write(regionName, key string, value interface{}, agentID string) (int64, error) {
	m.mu.Lock()
	r, exists := m.regions[regionName]
	if !exists {
		m.mu.Unlock()
		return 0, core.NewErrorf(core.KindUnknown, "no region named %q", regionName)
	}
	if !r.canWrite(agentID) {
		m.mu.Unlock()
		return 0, core.NewErrorf(core.KindDenied, "agent %q may not write region %q", agentID, regionName)
	}
	_, keyExists := r.data[key]
	if !keyExists && r.maxSize > 0 && len(r.data) >= r.maxSize {
		m.mu.Unlock()
		return 0, core.NewErrorf(core.KindFull, "region %q is at capacity %d", regionName, r.maxSize)
	}

	r.data[key] = value
	r.version++
	r.updatedAt = time.Now()
	version := r.version

	watchers := make([]Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	// Watchers run outside the lock (spec.md §5: no callback with an
	// internal lock held) and their errors/panics never affect the write.
	for _, w := range watchers {
		watcher := w
		core.InvokeCallback(m.log, "region.watcher", func() error {
			return watcher(key, value, version)
		})
	}

	return version, nil
}

// DeleteRegion removes name. Fails unless agentID == owner.
func (m *SharedMemoryManager) DeleteRegion(name, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, exists := m.regions[name]
	if !exists {
		return core.NewErrorf(core.KindUnknown, "no region named %q", name)
	}
	if r.owner != agentID {
		return core.NewErrorf(core.KindDenied, "agent %q is not the owner of %q", agentID, name)
	}
	delete(m.regions, name)
	return nil
}

// WatchHandle unsubscribes a previously registered region watcher.
type WatchHandle func()

// WatchRegion registers handler on name, returning an unsubscribe handle.
func (m *SharedMemoryManager) WatchRegion(name string, handler Watcher) (WatchHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, exists := m.regions[name]
	if !exists {
		return nil, core.NewErrorf(core.KindUnknown, "no region named %q", name)
	}
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.regions[name]; ok {
			delete(cur.watchers, id)
		}
	}, nil
}

// RegionCount returns the number of currently active regions.
func (m *SharedMemoryManager) RegionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// CleanupRegions removes every region whose TTL has elapsed, returning the
// count removed.
func (m *SharedMemoryManager) CleanupRegions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for name, r := range m.regions {
		if r.expired(now) {
			delete(m.regions, name)
			removed++
		}
	}
	return removed
}

// Destroy clears all regions and collectors, resolving outstanding
// collector observers with a Disposed error.
func (m *SharedMemoryManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	for _, c := range m.collectors {
		c.destroy()
	}
	m.regions = make(map[string]*region)
	m.collectors = make(map[string]*ResultCollector)
}
