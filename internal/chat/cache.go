package chat

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"alumnet/internal/config"
	"alumnet/internal/logging"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// CachedStore puts a Redis read-through cache in front of another Store.
//
// Recent-history pages live in one hash (field = limit) so an append drops
// every page with a single DEL. A generation counter bumped on each append
// keeps a slow loader from writing back a page that predates the append.
// Redis failures are logged and fall through to the wrapped store.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration

	pagesKey string
	genKey   string

	loadTimeout time.Duration

	group singleflight.Group
}

const defaultLoadTimeout = 10 * time.Second

func NewCachedStore(next Store, client *redis.Client, prefix string, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{
		next:     next,
		client:   client,
		ttl:      ttl,
		pagesKey: prefix + ":recent",
		genKey:   prefix + ":recent:gen",

		loadTimeout: defaultLoadTimeout,
	}
}

func (s *CachedStore) Append(ctx context.Context, in NewMessage) (*ChatMessage, error) {
	msg, err := s.next.Append(ctx, in)
	if err != nil {
		return nil, err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.genKey)
		pipe.Del(ctx, s.pagesKey)
		return nil
	})
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str(logging.FieldMessageID, msg.ID.Hex()).Msg("chat history cache invalidation failed")
	}
	return msg, nil
}

func (s *CachedStore) ListRecent(ctx context.Context, limit int) ([]ChatMessage, error) {
	limit = ClampLimit(limit)
	field := strconv.Itoa(limit)
	l := logging.Ctx(ctx)

	raw, err := s.client.HGet(ctx, s.pagesKey, field).Bytes()
	switch {
	case err == nil:
		var msgs []ChatMessage
		if err := json.Unmarshal(raw, &msgs); err == nil {
			return msgs, nil
		}
		l.Warn().Int("limit", limit).Msg("discarding undecodable chat history cache entry")
	case !errors.Is(err, redis.Nil):
		l.Warn().Err(err).Msg("chat history cache read failed")
	}

	// The shared load outlives any one caller's cancellation.
	v, err, _ := s.group.Do(field, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.load(loadCtx, limit, field)
	})
	if err != nil {
		return nil, err
	}
	return v.([]ChatMessage), nil
}

func (s *CachedStore) load(ctx context.Context, limit int, field string) ([]ChatMessage, error) {
	gen, err := s.generation(ctx, s.client)
	if err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("chat history cache generation read failed")
		return s.next.ListRecent(ctx, limit)
	}

	msgs, err := s.next.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	if err := s.fill(ctx, gen, field, msgs); err != nil && !errors.Is(err, redis.TxFailedErr) {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Msg("chat history cache write failed")
	}
	return msgs, nil
}

// fill stores msgs under field unless an append happened after gen was read.
func (s *CachedStore) fill(ctx context.Context, gen int64, field string, msgs []ChatMessage) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return err
	}

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.generation(ctx, tx)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.pagesKey, field, payload)
			pipe.Expire(ctx, s.pagesKey, s.ttl)
			return nil
		})
		return err
	}, s.genKey)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *CachedStore) generation(ctx context.Context, c getter) (int64, error) {
	gen, err := c.Get(ctx, s.genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}
