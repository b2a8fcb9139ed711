package config

import (
	"errors"
)

var (
	// ErrUnknownGormEngine error if config db.gormengine is not a supported engine.
	ErrUnknownGormEngine = errors.New("toml config db.gormengine must be sqlite, mysql or postgres")

	// ErrUnknownFeedBackend error if config feed.backend is not a supported backend.
	ErrUnknownFeedBackend = errors.New("toml config feed.backend must be bus or redis")

	// ErrEmptyRedisURL error if the redis feed backend is selected without a URL.
	ErrEmptyRedisURL = errors.New("toml config feed.redisurl can not be empty when feed.backend is redis")

	// ErrQueueCapacityNegative error if config queue.capacity is negative.
	ErrQueueCapacityNegative = errors.New("toml config queue.capacity can not be negative")

	// ErrHeartbeatTimeoutTooShort error if the heartbeat timeout does not exceed the interval.
	ErrHeartbeatTimeoutTooShort = errors.New("toml config sync.heartbeattimeout must exceed sync.heartbeatinterval")

	// ErrMetricsPortCanNotBeZero error if metrics are enabled without a listening port.
	ErrMetricsPortCanNotBeZero = errors.New("toml config metrics.port listening port can not be 0 when metrics are enabled")
)
