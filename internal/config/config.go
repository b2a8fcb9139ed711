// Package config handles input from etc/*.toml files
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/BurntSushi/toml"
)

// EnvConfigJSON is the environment variable holding a JSON document merged
// over the TOML configuration.
const EnvConfigJSON = "CONFSYNC_CONFIG_JSON"

// ReadConfig from config file.
func ReadConfig(path string) (Config, error) {
	var (
		c             Config
		JSONConfigEnv string
		err           error
	)

	// Read main configuration
	if path == "" {
		path = "./etc/"
	}

	if _, err = toml.DecodeFile(path+"main.toml", &c); err != nil {
		return Config{}, errors.Wrap(err, "failed to read main config file")
	}

	// override it from env
	JSONConfigEnv = os.Getenv(EnvConfigJSON)

	if JSONConfigEnv != "" {
		c, err = decodeAndMergeConfig(c, JSONConfigEnv)
		if err != nil {
			return c, err
		}
	}

	return c, validate(&c)
}

func decodeAndMergeConfig(c Config, configAsJSON string) (Config, error) {
	err := json.Unmarshal([]byte(configAsJSON), &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to merge config from environment")
	}

	return c, nil
}

// DumpConfig config as TOML String.
func DumpConfig(c *Config) (string, error) {
	var buffer bytes.Buffer
	t := toml.NewEncoder(&buffer)

	if err := t.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// DumpConfigJSON config as JSON String.
func DumpConfigJSON(c *Config) (string, error) {
	var buffer bytes.Buffer
	j := json.NewEncoder(&buffer)
	j.SetIndent("", "  ")

	if err := j.Encode(c); err != nil {
		return "", err //nolint: wrapcheck
	}

	return buffer.String(), nil
}

// validate checks the few parameters the engine cannot run without and
// fills defaults for the rest.
func validate(c *Config) error {
	invalidErrMessage := "invalid config"

	if c.DB.GormEngine == "" {
		c.DB.GormEngine = EngineSQLite
	}

	switch c.DB.GormEngine {
	case EngineSQLite, EngineMySQL, EnginePostgres:
	default:
		return errors.Wrap(ErrUnknownGormEngine, invalidErrMessage)
	}

	if c.DB.GormEngine == EngineSQLite && c.DB.Path == "" {
		c.DB.Path = "./confsync.db"
	}

	switch c.Feed.Backend {
	case "":
		c.Feed.Backend = FeedBackendBus
	case FeedBackendBus, FeedBackendRedis:
	default:
		return errors.Wrap(ErrUnknownFeedBackend, invalidErrMessage)
	}

	if c.Feed.Backend == FeedBackendRedis && c.Feed.RedisURL == "" {
		return errors.Wrap(ErrEmptyRedisURL, invalidErrMessage)
	}

	if c.Feed.ChannelPrefix == "" {
		c.Feed.ChannelPrefix = "confsync"
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 300 // 5 minutes
	}

	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 1000
	}

	if c.Queue.Capacity < 0 {
		return errors.Wrap(ErrQueueCapacityNegative, invalidErrMessage)
	}

	if c.Sync.HeartbeatInterval == 0 {
		c.Sync.HeartbeatInterval = 15
	}

	if c.Sync.HeartbeatTimeout == 0 {
		c.Sync.HeartbeatTimeout = 45
	}

	if c.Sync.HeartbeatTimeout <= c.Sync.HeartbeatInterval {
		return errors.Wrap(ErrHeartbeatTimeoutTooShort, invalidErrMessage)
	}

	if c.Sync.ConnectTimeout == 0 {
		c.Sync.ConnectTimeout = 10
	}

	if c.Sync.BackoffBase == 0 {
		c.Sync.BackoffBase = 500 // milliseconds
	}

	if c.Sync.BackoffMax == 0 {
		c.Sync.BackoffMax = 30000 // milliseconds
	}

	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 10
	}

	if c.Sync.Strategy == "" {
		c.Sync.Strategy = "server_wins"
	}

	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return errors.Wrap(ErrMetricsPortCanNotBeZero, invalidErrMessage)
	}

	return nil
}
