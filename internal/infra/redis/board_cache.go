package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-session-service/internal/domain"
)

// BoardCache keeps built leaderboards in Redis, one hash per quiz:
// HSET leaderboard:{quiz} {questionIndex} {json}
// INCR leaderboard:{quiz}:version on every invalidation
// Builds missing from the cache are collapsed with singleflight. A build is only
// written back while the version it started from is still current.
type BoardCache struct {
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
	rndMu  sync.Mutex
	rnd    *rand.Rand
}

var errStaleBuild = errors.New("leaderboard invalidated during build")

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func NewBoardCache(client *redis.Client, ttl time.Duration) *BoardCache {
	return &BoardCache{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *BoardCache) GetBoard(ctx context.Context, quizName string, questionIndex int, load func(context.Context) (domain.Leaderboard, error)) (domain.Leaderboard, error) {
	key := c.key(quizName)
	versionKey := key + ":version"
	field := strconv.Itoa(questionIndex)

	if board, ok := c.lookup(ctx, key, field); ok {
		return board, nil
	}

	version, err := c.version(ctx, c.client, versionKey)
	if err != nil {
		return load(ctx)
	}

	result, err, _ := c.sf.Do(key+"#"+field+"@"+strconv.FormatUint(version, 10), func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if board, ok := c.lookup(ctx, key, field); ok {
			return board, nil
		}

		board, err := load(ctx)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		ttl := c.ttlWithJitter()
		if ttl <= 0 {
			return board, nil
		}
		data, err := json.Marshal(board)
		if err != nil {
			return board, nil
		}
		// The write is best effort; a lost WATCH only means the next read rebuilds.
		_ = c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := c.version(ctx, tx, versionKey)
			if err != nil {
				return err
			}
			if current != version {
				return errStaleBuild
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, field, data)
				pipe.Expire(ctx, key, ttl)
				return nil
			})
			return err
		}, versionKey)
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

// Invalidate drops the cached boards of a quiz and bumps its version so builds
// already running do not write their result back.
func (c *BoardCache) Invalidate(ctx context.Context, quizName string) error {
	key := c.key(quizName)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Incr(ctx, key+":version")
		return nil
	})
	return err
}

func (c *BoardCache) version(ctx context.Context, cmd getter, versionKey string) (uint64, error) {
	v, err := cmd.Get(ctx, versionKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *BoardCache) lookup(ctx context.Context, key, field string) (domain.Leaderboard, bool) {
	data, err := c.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(data, &board); err != nil {
		return domain.Leaderboard{}, false
	}
	return board, true
}

func (c *BoardCache) key(quizName string) string {
	return "leaderboard:" + domain.SessionKey(quizName)
}

func (c *BoardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
