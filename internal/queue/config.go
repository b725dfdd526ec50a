// Package queue provides the durable job queue over Asynq. All workflow
// waiting (retry backoff, wait steps, concurrency backpressure) is expressed
// as delayed enqueues here; workers never sleep.
package queue

import "time"

// Config holds queue configuration.
type Config struct {
	// Redis configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server configuration
	Concurrency int
	Queues      map[string]int // queue name -> priority

	// Shutdown configuration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		RedisDB:         0,
		Concurrency:     10,
		Queues:          map[string]int{QueueCritical: 6, QueueDefault: 3, QueueLow: 1},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Queue priority constants.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)
