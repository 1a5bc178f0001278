package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/pubsub"
)

const maxUpdateRetries = 16

// RedisConfig holds Redis connection configuration for the store.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps each document in a Redis hash whose fields are the
// document's field paths. Check-then-set runs as a WATCH/MULTI transaction
// and every committed write is announced on the document's pubsub channel.
//
// Key pattern:
//
//	{prefix}{path}   HASH   field path -> JSON value
type RedisStore struct {
	client    *redis.Client
	bus       pubsub.PubSub
	keyPrefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on client, announcing changes through bus.
func NewRedisStore(client *redis.Client, bus pubsub.PubSub, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "multicam:"
	}
	return &RedisStore{
		client:    client,
		bus:       bus,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) key(path string) string {
	return s.keyPrefix + path
}

// GetDocument reads the whole hash.
func (s *RedisStore) GetDocument(ctx context.Context, path string) (Document, error) {
	doc, err := s.read(ctx, s.client, path)
	if err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("document %s: %w", path, domain.ErrNotFound)
	}
	return doc, nil
}

func (s *RedisStore) read(ctx context.Context, c redis.Cmdable, path string) (Document, error) {
	m, err := c.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = json.RawMessage(v)
	}
	return doc, nil
}

// SetField writes one field. Descendants of the field are removed in the
// same transaction.
func (s *RedisStore) SetField(ctx context.Context, path, field string, value interface{}) error {
	return s.Update(ctx, path, func(Document) ([]Op, error) {
		return []Op{Set(field, value)}, nil
	})
}

// DeleteField removes a field and its descendants.
func (s *RedisStore) DeleteField(ctx context.Context, path, field string) error {
	return s.Update(ctx, path, func(Document) ([]Op, error) {
		return []Op{Delete(field)}, nil
	})
}

// Update runs fn inside an optimistic transaction, retrying on conflict.
func (s *RedisStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	key := s.key(path)
	committed := false

	txf := func(tx *redis.Tx) error {
		current, err := s.read(ctx, tx, path)
		if err != nil {
			return err
		}

		ops, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			return nil
		}
		encoded, err := encodeOps(ops)
		if err != nil {
			return err
		}

		// Compute the final field set locally so overlapping ops resolve the
		// same way as in memory.
		next := current.Clone()
		apply(next, encoded)

		var del []string
		for k := range current {
			if _, ok := next[k]; !ok {
				del = append(del, k)
			}
		}
		set := make(map[string]interface{})
		for k, v := range next {
			if old, ok := current[k]; !ok || string(old) != string(v) {
				set[k] = string(v)
			}
		}
		if len(del) == 0 && len(set) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(del) > 0 {
				pipe.HDel(ctx, key, del...)
			}
			if len(set) > 0 {
				pipe.HSet(ctx, key, set)
			}
			return nil
		})
		if err == nil {
			committed = true
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		if committed {
			s.announce(ctx, path)
		}
		return nil
	}
	return fmt.Errorf("update %s: too many concurrent writers", path)
}

func (s *RedisStore) announce(ctx context.Context, path string) {
	evt, err := pubsub.NewEvent(pubsub.EventDocumentChanged, path, nil)
	if err == nil {
		err = s.bus.Publish(ctx, pubsub.DocumentChannel(path), evt)
	}
	if err != nil {
		// The write is committed; subscribers catch up on the next change.
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("path", path).Msg("failed to announce document change")
	}
}

// Subscribe listens on the document's channel and re-reads the document on
// each notification.
func (s *RedisStore) Subscribe(ctx context.Context, path string, onChange func(Document)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	events, err := s.bus.Subscribe(subCtx, pubsub.DocumentChannel(path))
	if err != nil {
		cancel()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.deliver(subCtx, path, events, onChange)
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
		wg.Wait()
	}, nil
}

func (s *RedisStore) deliver(ctx context.Context, path string, events <-chan *pubsub.Event, onChange func(Document)) {
	l := log.Ctx(ctx)

	push := func() {
		doc, err := s.read(ctx, s.client, path)
		if err != nil {
			if ctx.Err() == nil {
				l.Warn().Err(err).Str("path", path).Msg("failed to refresh document")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		onChange(doc)
	}

	push()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			// Collapse a burst of notifications into one read.
			for drained := false; !drained; {
				select {
				case _, ok := <-events:
					if !ok {
						return
					}
				default:
					drained = true
				}
			}
			push()
		}
	}
}
