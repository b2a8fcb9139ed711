package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/confsync/confsync/internal/logger/adapter/stdlogger"
	"github.com/confsync/confsync/internal/uniuri"
)

// connectProbeTimeout bounds the connection test during construction.
const connectProbeTimeout = 5 * time.Second

var redisLoggerOnce sync.Once //nolint:gochecknoglobals

// RedisFeed distributes messages across processes over Redis pub/sub.
// Every category publishes on its own channel under the configured prefix.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(redisURL, channelPrefix string) (*RedisFeed, error) {
	redisLoggerOnce.Do(func() {
		redis.SetLogger(stdlogger.New())
	})

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), connectProbeTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisFeed{
		client: client,
		prefix: channelPrefix,
	}, nil
}

// channel names the pub/sub channel of one category.
func (f *RedisFeed) channel(category string) string {
	return f.prefix + category
}

// Publish sends the message on its category channel.
func (f *RedisFeed) Publish(ctx context.Context, msg SyncMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return f.client.Publish(ctx, f.channel(msg.Category), payload).Err()
}

// Subscribe listens on the filter's category channels, or on every channel
// under the prefix when the filter names none. Key and scope filtering
// happens locally.
func (f *RedisFeed) Subscribe(ctx context.Context, filter Filter) (Subscription, error) {
	var pubsub *redis.PubSub
	if len(filter.Categories) > 0 {
		channels := make([]string, 0, len(filter.Categories))
		for _, category := range filter.Categories {
			channels = append(channels, f.channel(category))
		}
		pubsub = f.client.Subscribe(ctx, channels...)
	} else {
		pubsub = f.client.PSubscribe(ctx, f.prefix+"*")
	}

	// Receive forces the subscribe handshake so a dead transport fails
	// here instead of silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		id:     uniuri.New(),
		pubsub: pubsub,
		ch:     make(chan SyncMessage, busBuffer),
	}
	go sub.pump(filter)

	return sub, nil
}

// Ping checks the Redis connection.
func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisSubscription struct {
	id     string
	pubsub *redis.PubSub
	ch     chan SyncMessage
}

func (s *redisSubscription) ID() string {
	return s.id
}

func (s *redisSubscription) Messages() <-chan SyncMessage {
	return s.ch
}

// Close tears down the pub/sub connection. The pump goroutine closes the
// message channel when the transport channel drains.
func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

// pump decodes transport messages and forwards the ones passing the filter.
func (s *redisSubscription) pump(filter Filter) {
	defer close(s.ch)

	for raw := range s.pubsub.Channel() {
		var msg SyncMessage
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			log.Warn().Err(err).Str("channel", raw.Channel).
				Msg("feed message does not decode, dropped")
			continue
		}
		if !filter.Match(msg) {
			continue
		}

		select {
		case s.ch <- msg:
		default:
			log.Warn().Str("subscription", s.id).Str("key", msg.Key).
				Msg("feed subscriber too slow, message dropped")
		}
	}
}
