package source

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCacheInterval is how long a reply from the platform stays fresh.
const DefaultCacheInterval = 5 * time.Second

type cachedValue struct {
	value     int
	fetchedAt time.Time
	ok        bool
}

func (c cachedValue) fresh(now time.Time, interval time.Duration) bool {
	return c.ok && now.Sub(c.fetchedAt) < interval
}

// CachedSource keeps the last successful reply of each measurement and only
// asks the platform again once that reply is older than the interval.
type CachedSource struct {
	inner    Source
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	voltage     cachedValue
	temperature cachedValue
}

// Cached wraps src with a reply cache. Failures are never cached.
func Cached(src Source, interval time.Duration) *CachedSource {
	if interval <= 0 {
		interval = DefaultCacheInterval
	}
	return &CachedSource{inner: src, interval: interval, now: time.Now}
}

func (c *CachedSource) Name() string {
	return c.inner.Name()
}

func (c *CachedSource) ReadVoltage(ctx context.Context) (int, error) {
	return c.read(ctx, &c.voltage, "voltage", c.inner.ReadVoltage)
}

func (c *CachedSource) ReadTemperature(ctx context.Context) (int, error) {
	return c.read(ctx, &c.temperature, "temperature", c.inner.ReadTemperature)
}

// FetchedAt returns when the cached voltage was read, or the zero time.
func (c *CachedSource) FetchedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voltage.fetchedAt
}

// Invalidate drops both cached replies.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voltage = cachedValue{}
	c.temperature = cachedValue{}
}

func (c *CachedSource) read(ctx context.Context, slot *cachedValue, what string, fetch func(context.Context) (int, error)) (int, error) {
	c.mu.Lock()
	if slot.fresh(c.now(), c.interval) {
		v := slot.value
		c.mu.Unlock()
		logrus.WithFields(logrus.Fields{what: v}).Trace("using cached reply")
		return v, nil
	}
	c.mu.Unlock()

	v, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	*slot = cachedValue{value: v, fetchedAt: c.now(), ok: true}
	c.mu.Unlock()

	return v, nil
}
