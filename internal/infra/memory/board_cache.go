package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// BoardCache caches built leaderboards with a TTL and collapses concurrent builds
// of the same board into one. A build started before an Invalidate is returned to
// its callers but never stored.
type BoardCache struct {
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group
	rnd   *rand.Rand
	rndMu sync.Mutex

	mu          sync.RWMutex
	cache       map[string]map[int]cachedBoard // by session key, then question index
	generations map[string]uint64              // bumped by Invalidate
}

type cachedBoard struct {
	board     domain.Leaderboard
	expiresAt time.Time
}

func NewBoardCache(ttl time.Duration) *BoardCache {
	return &BoardCache{
		ttl:         ttl,
		clock:       time.Now,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:       make(map[string]map[int]cachedBoard),
		generations: make(map[string]uint64),
	}
}

func (c *BoardCache) GetBoard(ctx context.Context, quizName string, questionIndex int, load func(context.Context) (domain.Leaderboard, error)) (domain.Leaderboard, error) {
	key := domain.SessionKey(quizName)
	if board, ok := c.lookup(key, questionIndex); ok {
		return board, nil
	}

	gen := c.generation(key)
	flight := key + "#" + strconv.Itoa(questionIndex) + "@" + strconv.FormatUint(gen, 10)
	result, err, _ := c.sf.Do(flight, func() (interface{}, error) {
		if board, ok := c.lookup(key, questionIndex); ok {
			return board, nil
		}
		board, err := load(ctx)
		if err != nil {
			return domain.Leaderboard{}, err
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			c.mu.Lock()
			if c.generations[key] == gen {
				if c.cache[key] == nil {
					c.cache[key] = make(map[int]cachedBoard)
				}
				c.cache[key][questionIndex] = cachedBoard{board: board, expiresAt: c.clock().Add(ttl)}
			}
			c.mu.Unlock()
		}
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

// Invalidate drops every cached board of a session.
func (c *BoardCache) Invalidate(_ context.Context, quizName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := domain.SessionKey(quizName)
	delete(c.cache, key)
	c.generations[key]++
	return nil
}

func (c *BoardCache) generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[key]
}

func (c *BoardCache) lookup(key string, questionIndex int) (domain.Leaderboard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key][questionIndex]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Leaderboard{}, false
	}
	return entry.board, true
}

func (c *BoardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
