package config

import (
	"github.com/confsync/confsync/internal/logger"
)

// Feed backend names accepted in the configuration.
const (
	FeedBackendBus   = "bus"
	FeedBackendRedis = "redis"
)

// Config overall data structure.
type Config struct {
	DevMode bool // enable dev mode for development
	DB      DB
	Log     logger.Log
	Title   string
	Cache   Cache
	Feed    Feed
	Queue   Queue
	Sync    Sync
	Metrics Metrics
}

// Cache settings for the resolved-value cache.
type Cache struct {
	TTL      int    // entry time to live in seconds
	Capacity uint64 // maximum number of entries, 0 = unbounded
}

// Feed settings for the change feed.
type Feed struct {
	Backend       string // "bus" for in-process, "redis" for Redis pub/sub
	RedisURL      string // redis connection URL, required for the redis backend
	ChannelPrefix string // prefix for feed channel names
}

// Queue settings for the offline queue.
type Queue struct {
	Capacity int // maximum number of pending entries
}

// Sync settings for the sync client.
type Sync struct {
	ClientID          string            // stable client identity, generated when empty
	HeartbeatInterval int               // seconds between heartbeats
	HeartbeatTimeout  int               // seconds without an ack before reconnecting
	ConnectTimeout    int               // seconds allowed for connect and subscribe handshakes
	BackoffBase       int               // initial reconnect delay in milliseconds
	BackoffMax        int               // reconnect delay cap in milliseconds
	MaxAttempts       int               // reconnect attempts before entering degraded mode
	Strategy          string            // default conflict resolution strategy
	Strategies        map[string]string // per-key strategy overrides
}

// Metrics settings for the prometheus endpoint.
type Metrics struct {
	Enabled bool
	Port    int // listening port for the /metrics endpoint
}
