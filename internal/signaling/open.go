package signaling

import (
	"errors"
	"fmt"

	"github.com/weiawesome/wes-io-multicam/pkg/pubsub"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config selects and configures the store.
type Config struct {
	Driver string        `mapstructure:"driver"` // "memory", "redis"
	Redis  RedisConfig   `mapstructure:"redis"`
	Notify pubsub.Config `mapstructure:"notify"`
}

// Open creates the configured store. The returned func releases its
// connections.
func Open(cfg Config) (Store, func() error, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), func() error { return nil }, nil

	case DriverRedis:
		client, err := NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}

		var bus pubsub.PubSub
		if cfg.Notify.Driver == "redis" || cfg.Notify.Driver == "" {
			// Change notifications share the store's connection.
			bus = pubsub.NewRedisPubSubFromClient(client)
		} else {
			bus, err = pubsub.NewPubSub(cfg.Notify)
			if err != nil {
				client.Close()
				return nil, nil, fmt.Errorf("failed to initialize change notifications: %w", err)
			}
		}

		closeFn := func() error {
			return errors.Join(bus.Close(), client.Close())
		}
		return NewRedisStore(client, bus, cfg.Redis.KeyPrefix), closeFn, nil
	}

	return nil, nil, fmt.Errorf("unsupported signaling driver: %s", cfg.Driver)
}
