package server

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Presence counts live connections per user. A user is online while at least
// one connection is open.
type Presence interface {
	// Connect records a new connection and reports whether it is the user's
	// first.
	Connect(ctx context.Context, userID string) (bool, error)
	// Disconnect drops a connection and reports whether it was the user's
	// last.
	Disconnect(ctx context.Context, userID string) (bool, error)
	Online(ctx context.Context) ([]string, error)
}

type memoryPresence struct {
	mu    sync.Mutex
	conns map[string]int
}

func NewMemoryPresence() Presence {
	return &memoryPresence{conns: make(map[string]int)}
}

func (p *memoryPresence) Connect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[userID]++
	return p.conns[userID] == 1, nil
}

func (p *memoryPresence) Disconnect(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.conns[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(p.conns, userID)
		return true, nil
	}
	p.conns[userID] = n - 1
	return false, nil
}

func (p *memoryPresence) Online(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

const presenceKey = "rtchat:presence"

// redisPresence keeps the connection counts in a Redis hash so several
// backend instances share one online list.
type redisPresence struct {
	rdb *redis.Client
}

// NewRedisPresence connects to addr and verifies it answers.
func NewRedisPresence(ctx context.Context, addr string) (Presence, func() error, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, errors.Wrapf(err, "redis %s", addr)
	}
	return &redisPresence{rdb: rdb}, rdb.Close, nil
}

func (p *redisPresence) Connect(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HIncrBy(ctx, presenceKey, userID, 1).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence connect")
	}
	return n == 1, nil
}

func (p *redisPresence) Disconnect(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.HIncrBy(ctx, presenceKey, userID, -1).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence disconnect")
	}
	if n > 0 {
		return false, nil
	}
	if err := p.rdb.HDel(ctx, presenceKey, userID).Err(); err != nil {
		return true, errors.Wrap(err, "presence disconnect")
	}
	return true, nil
}

func (p *redisPresence) Online(ctx context.Context) ([]string, error) {
	counts, err := p.rdb.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence list")
	}
	ids := make([]string, 0, len(counts))
	for id, v := range counts {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
