// Package lunchcache keeps recently fetched meals for a short time so that
// repeated reads don't hit the provider.
package lunchcache

import (
	"time"

	"lunchbox-backend/internal/components/assert"
	"lunchbox-backend/internal/components/chrono"
	"lunchbox-backend/internal/scrapers/edupage"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultTTL      = 60 * time.Second
	DefaultCapacity = 4096
)

type key struct {
	userId string
	date   string
}

type entry struct {
	record     edupage.MealRecord
	insertedAt time.Time
}

type Options struct {
	TTL time.Duration
	// Capacity bounds the number of entries, the least recently used entry is
	// evicted first.
	Capacity int
	Time     chrono.TimeAPI
}

// Cache maps (user, date) to the meal fetched for it. Entries expire TTL
// after insertion, expired entries are dropped when they're read.
type Cache struct {
	entries *lru.Cache[key, entry]
	ttl     time.Duration
	time    chrono.TimeAPI
}

func New(opts Options) (*Cache, error) {
	assert.NotNil(opts.Time)

	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}

	entries, err := lru.New[key, entry](opts.Capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: entries,
		ttl:     opts.TTL,
		time:    opts.Time,
	}, nil
}

func (c *Cache) Get(userId, date string) (edupage.MealRecord, bool) {
	k := key{userId: userId, date: date}
	e, ok := c.entries.Get(k)
	if !ok {
		return edupage.MealRecord{}, false
	}
	if !c.time.Now().Before(e.insertedAt.Add(c.ttl)) {
		c.entries.Remove(k)
		return edupage.MealRecord{}, false
	}
	return e.record, true
}

func (c *Cache) Set(userId, date string, record edupage.MealRecord) {
	c.entries.Add(key{userId: userId, date: date}, entry{
		record:     record,
		insertedAt: c.time.Now(),
	})
}

func (c *Cache) Invalidate(userId, date string) {
	c.entries.Remove(key{userId: userId, date: date})
}

// ClearUser drops every entry of the user.
func (c *Cache) ClearUser(userId string) {
	for _, k := range c.entries.Keys() {
		if k.userId == userId {
			c.entries.Remove(k)
		}
	}
}

func (c *Cache) Len() int {
	return c.entries.Len()
}
