package pubsub

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects the change bus driver. "memory" only reaches live queries
// of the same process; "redis" and "kafka" fan changes out across
// instances.
type Config struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

// RedisConfig holds the Redis connection used for PUBLISH/SUBSCRIBE.
type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Options converts c for redis.NewClient.
func (c RedisConfig) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Address,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// KafkaConfig holds the brokers and topic layout of the Kafka driver.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	GroupID    string `mapstructure:"group_id"`
	Partitions int    `mapstructure:"partitions"`
}

// NewPubSub creates the driver named by cfg.Driver.
func NewPubSub(cfg Config) (PubSub, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryPubSub(), nil
	case "redis":
		return NewRedisPubSub(cfg.Redis)
	case "kafka":
		return NewKafkaPubSub(cfg.Kafka)
	default:
		return nil, fmt.Errorf("unsupported pubsub driver: %s", cfg.Driver)
	}
}
