package checksum

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Cache defaults, in line with the recognized configuration options.
const (
	DefaultExpiredCheckInterval = 300000 * time.Millisecond
	DefaultLifetime             = 60000 * time.Millisecond
)

type cacheEntry struct {
	digests       map[string]string
	lastRefreshed time.Time
}

// Cache is a TTL-bounded map of artifact path to computed digests. Entries
// are refreshed on write and evicted by a background sweeper once they
// outlive the configured lifetime. A stale entry is treated as absent by
// readers even before the sweeper reaches it.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	lifetime time.Duration
	interval time.Duration
	log      zerolog.Logger

	scheduler gocron.Scheduler
}

// NewCache creates a digest cache. Zero durations fall back to the defaults.
func NewCache(lifetime, expiredCheckInterval time.Duration, log zerolog.Logger) *Cache {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if expiredCheckInterval <= 0 {
		expiredCheckInterval = DefaultExpiredCheckInterval
	}
	return &Cache{
		entries:  make(map[string]*cacheEntry),
		lifetime: lifetime,
		interval: expiredCheckInterval,
		log:      log,
	}
}

// Start launches the background sweeper.
func (c *Cache) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sweeper scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(c.sweep),
		gocron.WithName("checksum-cache-sweeper"),
	)
	if err != nil {
		return fmt.Errorf("schedule sweeper job: %w", err)
	}

	c.scheduler = scheduler
	scheduler.Start()

	c.log.Debug().
		Dur("lifetime", c.lifetime).
		Dur("interval", c.interval).
		Msg("checksum cache sweeper started")

	return nil
}

// Stop shuts the sweeper down. Safe to call when Start was never called.
func (c *Cache) Stop() error {
	if c.scheduler == nil {
		return nil
	}
	return c.scheduler.Shutdown()
}

// Get returns the cached digest for the path and algorithm, if present and
// not expired.
func (c *Cache) Get(path, algorithm string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[path]
	if !ok || time.Since(entry.lastRefreshed) > c.lifetime {
		return "", false
	}
	digest, ok := entry.digests[algorithm]
	return digest, ok
}

// Put stores a digest for the path and refreshes the entry timestamp.
func (c *Cache) Put(path, algorithm, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		entry = &cacheEntry{digests: make(map[string]string)}
		c.entries[path] = entry
	}
	entry.digests[algorithm] = digest
	entry.lastRefreshed = time.Now()
}

// PutAll stores a digest set for the path in a single refresh.
func (c *Cache) PutAll(path string, digests map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		digests:       make(map[string]string, len(digests)),
		lastRefreshed: time.Now(),
	}
	for algorithm, digest := range digests {
		entry.digests[algorithm] = digest
	}
	c.entries[path] = entry
}

// Invalidate drops all cached digests for the path.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Size returns the number of cached paths, expired entries included.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for path, entry := range c.entries {
		if time.Since(entry.lastRefreshed) > c.lifetime {
			delete(c.entries, path)
			evicted++
		}
	}

	if evicted > 0 {
		c.log.Debug().Int("evicted", evicted).Int("remaining", len(c.entries)).Msg("checksum cache sweep")
	}
}
