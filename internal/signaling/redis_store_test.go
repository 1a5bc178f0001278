package signaling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/pubsub"
)

// redisAddr returns REDIS_TEST_ADDR when set, otherwise starts a container
// for the duration of the test.
func redisAddr(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv("REDIS_TEST_ADDR"); addr != "" {
		return addr
	}
	if testing.Short() {
		t.Skip("redis store tests start a redis container")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	uri, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	return opts.Addr
}

func TestRedisStore(t *testing.T) {
	client, err := NewRedisClient(RedisConfig{Address: redisAddr(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	newStore := func(t *testing.T) *RedisStore {
		prefix := fmt.Sprintf("test:%s:%d:", strings.ReplaceAll(t.Name(), "/", "."), time.Now().UnixNano())
		return NewRedisStore(client, pubsub.NewRedisPubSubFromClient(client), prefix)
	}

	t.Run("missing document", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetDocument(context.Background(), "rooms/nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("set field keeps siblings", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.deviceName", "left"))
		require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera2.deviceName", "right"))
		require.NoError(t, s.Update(ctx, "rooms/a", func(Document) ([]Op, error) {
			return []Op{
				Set("cameras.camera2.isUsingFallback", true),
				Set("activeCameraId", "camera2"),
			}, nil
		}))

		doc, err := s.GetDocument(ctx, "rooms/a")
		require.NoError(t, err)
		assert.Len(t, doc, 4)
		assert.JSONEq(t, `"left"`, string(doc["cameras.camera1.deviceName"]))
		assert.JSONEq(t, `true`, string(doc["cameras.camera2.isUsingFallback"]))
		assert.ElementsMatch(t, []string{"camera1", "camera2"}, doc.Children("cameras"))
	})

	t.Run("set replaces descendants", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.SetField(ctx, "rooms/a", "recording.id", "r1"))
		require.NoError(t, s.SetField(ctx, "rooms/a", "recording.status", "recording"))
		require.NoError(t, s.SetField(ctx, "rooms/a", "recordingCount", 1))
		require.NoError(t, s.SetField(ctx, "rooms/a", "recording", map[string]string{"id": "r2"}))

		keys, err := client.HKeys(ctx, s.key("rooms/a")).Result()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"recording", "recordingCount"}, keys)

		doc, err := s.GetDocument(ctx, "rooms/a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"r2"}`, string(doc["recording"]))
	})

	t.Run("delete removes descendants only", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.deviceName", "left"))
		require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.sessionId", "s1"))
		require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera10", "not a child"))
		require.NoError(t, s.DeleteField(ctx, "rooms/a", "cameras.camera1"))

		doc, err := s.GetDocument(ctx, "rooms/a")
		require.NoError(t, err)
		assert.False(t, doc.Has("cameras.camera1.deviceName"))
		assert.False(t, doc.Has("cameras.camera1.sessionId"))
		assert.True(t, doc.Has("cameras.camera10"))
	})

	t.Run("update aborts on error", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera1"))

		boom := errors.New("precondition")
		err := s.Update(ctx, "rooms/a", func(Document) ([]Op, error) {
			return []Op{Set("activeCameraId", "camera2"), Set("cameras.camera2.deviceName", "x")}, boom
		})
		assert.ErrorIs(t, err, boom)

		doc, err := s.GetDocument(ctx, "rooms/a")
		require.NoError(t, err)
		assert.Len(t, doc, 1)
		assert.JSONEq(t, `"camera1"`, string(doc["activeCameraId"]))
	})

	t.Run("concurrent updates all land", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.SetField(ctx, "rooms/a", "joins", 0))

		const writers = 6
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 1; i <= writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Update(ctx, "rooms/a", func(doc Document) ([]Op, error) {
					var joins int
					if _, err := doc.Decode("joins", &joins); err != nil {
						return nil, err
					}
					return []Op{
						Set("joins", joins+1),
						Set(fmt.Sprintf("cameras.camera%d.deviceName", i), fmt.Sprintf("cam %d", i)),
					}, nil
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		doc, err := s.GetDocument(ctx, "rooms/a")
		require.NoError(t, err)
		assert.JSONEq(t, fmt.Sprint(writers), string(doc["joins"]))
		assert.Len(t, doc.Children("cameras"), writers)
	})

	t.Run("subscribe delivers after publish", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var mu sync.Mutex
		var last Document
		calls := 0
		unsubscribe, err := s.Subscribe(ctx, "rooms/a", func(doc Document) {
			mu.Lock()
			defer mu.Unlock()
			last = doc
			calls++
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return calls >= 1
		}, 2*time.Second, 10*time.Millisecond, "initial snapshot")

		for i := 1; i <= 10; i++ {
			require.NoError(t, s.SetField(ctx, "rooms/a", "zoomLevel", i))
		}
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return string(last["zoomLevel"]) == "10"
		}, 2*time.Second, 10*time.Millisecond)

		unsubscribe()
		mu.Lock()
		after := calls
		mu.Unlock()

		require.NoError(t, s.SetField(ctx, "rooms/a", "zoomLevel", 11))
		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, after, calls, "no callbacks after unsubscribe returns")
	})

	t.Run("no-op update announces nothing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s := newStore(t)
		require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera1"))

		events, err := s.bus.Subscribe(ctx, pubsub.DocumentChannel("rooms/a"))
		require.NoError(t, err)

		require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera1"))
		require.NoError(t, s.Update(ctx, "rooms/a", func(Document) ([]Op, error) { return nil, nil }))
		require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera2"))

		select {
		case evt := <-events:
			require.NotNil(t, evt)
		case <-time.After(2 * time.Second):
			t.Fatal("change was not announced")
		}
		select {
		case evt := <-events:
			t.Fatalf("unexpected second announcement: %+v", evt)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
