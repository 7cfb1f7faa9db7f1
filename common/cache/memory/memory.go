package memory

import (
	"context"
	"encoding"
	"sync"
	"time"

	"digitaltwin/common/cache"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is an in-process cache.Cache used when no Redis address is configured
// and in tests.
type Cache struct {
	mu         sync.Mutex
	items      map[string]entry
	defaultTTL time.Duration
	closed     bool
	now        func() time.Time
}

func New(opts cache.Options) *Cache {
	ttl := opts.DefaultTTL
	if ttl == 0 {
		ttl = cache.DefaultOptions().DefaultTTL
	}
	return &Cache{items: make(map[string]entry), defaultTTL: ttl, now: time.Now}
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case encoding.BinaryMarshaler:
		return v.MarshalBinary()
	default:
		return nil, cache.ErrInvalidValue
	}
}

func (c *Cache) lookup(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) store(key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	c.items[key] = entry{value: data, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *Cache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	return c.store(key, value, ttl)
}

func (c *Cache) SetIfAbsent(_ context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, cache.ErrInvalidKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, cache.ErrClosed
	}
	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	if err := c.store(key, value, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Get(_ context.Context, key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return cache.ErrClosed
	}
	e, ok := c.lookup(key)
	if !ok {
		return cache.ErrNotFound
	}

	switch v := value.(type) {
	case *string:
		*v = string(e.value)
	case *[]byte:
		*v = append([]byte(nil), e.value...)
	case encoding.BinaryUnmarshaler:
		return v.UnmarshalBinary(e.value)
	default:
		return cache.ErrInvalidValue
	}
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *Cache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]entry)
	return nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
