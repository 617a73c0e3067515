// Package redisclient opens the shared Redis connection the builder's
// chunk work queue (adjust/rmq) and the query path's walking-path cache
// (eko/gocache) both sit on top of.
package redisclient

import (
	"context"

	"github.com/adjust/rmq/v5"
	"github.com/redis/go-redis/v9"

	"github.com/gridhop/transferpatterns/pkg/config"
)

const defaultAddress = "localhost:6379"
const queueTag = "transferpatterns"

// Client is the shared go-redis client, set by Connect.
var Client *redis.Client

// Queue is the rmq connection the builder's chunk work queue consumes.
var Queue rmq.Connection

// Connect opens the Redis client and the rmq queue connection on top of
// it. A blank cfg.Address falls back to localhost:6379.
func Connect(cfg config.RedisConfig) error {
	address := cfg.Address
	if address == "" {
		address = defaultAddress
	}

	Client = redis.NewClient(&redis.Options{Addr: address})

	if err := Client.Ping(context.Background()).Err(); err != nil {
		return err
	}

	errChan := make(chan error, 10)

	queue, err := rmq.OpenConnectionWithRedisClient(queueTag, Client, errChan)
	if err != nil {
		return err
	}
	Queue = queue

	return nil
}
