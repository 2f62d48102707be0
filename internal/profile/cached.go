package profile

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Source is a combined Directory and Circle.
type Source interface {
	Directory
	Circle
}

// Cached memoises successful lookups of the wrapped source for ttl. Errors are never cached.
type Cached struct {
	next     Source
	channels *expirable.LRU[string, Channels]
	names    *expirable.LRU[string, string]
	circles  *expirable.LRU[string, []string]
}

// NewCached wraps next with LRU caches of the given size and ttl.
func NewCached(next Source, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		next:     next,
		channels: expirable.NewLRU[string, Channels](size, nil, ttl),
		names:    expirable.NewLRU[string, string](size, nil, ttl),
		circles:  expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func (c *Cached) ContactChannels(ctx context.Context, userID string) (Channels, error) {
	if v, ok := c.channels.Get(userID); ok {
		return v, nil
	}
	v, err := c.next.ContactChannels(ctx, userID)
	if err != nil {
		return Channels{}, err
	}
	c.channels.Add(userID, v)
	return v, nil
}

func (c *Cached) DisplayName(ctx context.Context, userID string) (string, error) {
	if v, ok := c.names.Get(userID); ok {
		return v, nil
	}
	v, err := c.next.DisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	c.names.Add(userID, v)
	return v, nil
}

func (c *Cached) TrustedContacts(ctx context.Context, ownerID string) ([]string, error) {
	if v, ok := c.circles.Get(ownerID); ok {
		return append([]string(nil), v...), nil
	}
	v, err := c.next.TrustedContacts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.circles.Add(ownerID, append([]string(nil), v...))
	return v, nil
}

// Invalidate drops every cached entry for id.
func (c *Cached) Invalidate(id string) {
	c.channels.Remove(id)
	c.names.Remove(id)
	c.circles.Remove(id)
}
