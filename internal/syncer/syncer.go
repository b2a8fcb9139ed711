// Package syncer keeps one node attached to the change feed. It owns the
// connection lifecycle (heartbeats, reconnect backoff, degraded mode),
// folds what other nodes publish into the local store through an apply
// callback, and drains the offline queue whenever the connection comes
// back.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/confsync/confsync/internal/feed"
	"github.com/confsync/confsync/internal/offline"
)

var (
	// ErrSyncTimeout is returned when a feed handshake or heartbeat does
	// not answer within its deadline.
	ErrSyncTimeout = errors.New("sync operation timed out")
)

// State is the connection state of the client.
type State int32

const (
	// StateDisconnected holds before Start and after MaxAttempts failed
	// dials. A degraded client stays here while it probes.
	StateDisconnected State = iota
	// StateConnecting is the initial dial.
	StateConnecting
	// StateConnected is a live feed session.
	StateConnected
	// StateReconnecting means the session dropped and redialing is
	// backing off.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ApplyFunc folds one received message into the local node.
type ApplyFunc func(ctx context.Context, msg feed.SyncMessage) error

// Defaults for Options fields left zero.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultBackoffBase       = 500 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
	DefaultMaxAttempts       = 10
)

// Options configure a Client.
type Options struct {
	// Feed is the transport carrying committed mutations between nodes.
	Feed feed.Feed
	// Filter narrows the subscription. The zero filter receives
	// everything, which is what a full replica wants.
	Filter feed.Filter
	// Apply folds one received message into the local node. Required.
	Apply ApplyFunc
	// Queue and Replay drain offline mutations after each connect. Both
	// may be nil on a node that never writes.
	Queue  *offline.Queue
	Replay offline.ReplayFunc
	// ClientID is this node's feed identity. Received messages carrying
	// it are its own announcements and are skipped.
	ClientID string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ConnectTimeout    time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	MaxAttempts       int
}

// Client maintains the feed session for one node. Online and Degraded
// satisfy the settings service's connectivity binding.
type Client struct {
	feed     feed.Feed
	filter   feed.Filter
	apply    ApplyFunc
	queue    *offline.Queue
	replay   offline.ReplayFunc
	clientID string

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	connectTimeout    time.Duration
	maxAttempts       int
	backoff           *backoff

	state    atomic.Int32
	degraded atomic.Bool

	// seen is touched only by the run goroutine.
	seen *seenWindow

	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New builds a client over the feed. Zero option fields take the package
// defaults.
func New(opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultBackoffMax
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	c := &Client{
		feed:              opts.Feed,
		filter:            opts.Filter,
		apply:             opts.Apply,
		queue:             opts.Queue,
		replay:            opts.Replay,
		clientID:          opts.ClientID,
		heartbeatInterval: opts.HeartbeatInterval,
		heartbeatTimeout:  opts.HeartbeatTimeout,
		connectTimeout:    opts.ConnectTimeout,
		maxAttempts:       opts.MaxAttempts,
		backoff:           newBackoff(opts.BackoffBase, opts.BackoffMax),
		seen:              newSeenWindow(),
		done:              make(chan struct{}),
	}
	c.setState(StateDisconnected)

	return c
}

// Start launches the connection loops and returns. Progress is visible
// through State, Online and Degraded.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		c.started.Store(true)
		go c.run(runCtx)
	})
}

// Close cancels any in-flight reconnect, detaches from the feed and
// waits for the loops to stop. Writes queued while offline stay in the
// queue for the next start.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if !c.started.Load() {
			return
		}
		c.cancel()
		<-c.done
	})

	return nil
}

// State returns the connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Online reports a live feed session. The settings service publishes
// directly while online and queues mutations otherwise.
func (c *Client) Online() bool {
	return c.State() == StateConnected
}

// Degraded reports that redialing gave up after MaxAttempts. Reads are
// marked stale while degraded; the client keeps probing at the capped
// backoff and leaves the mode on the first dial that succeeds.
func (c *Client) Degraded() bool {
	return c.degraded.Load()
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	observeState(s)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	entry := StateConnecting
	for {
		sub := c.establish(ctx, entry)
		if sub == nil {
			return
		}

		c.setState(StateConnected)
		if c.degraded.CompareAndSwap(true, false) {
			log.Info().Msg("sync client left degraded mode")
		}
		log.Info().Str("subscription", sub.ID()).Msg("sync client connected")

		c.drainQueue(ctx)

		end := c.session(ctx, sub)
		_ = sub.Close()
		if end == endShutdown {
			return
		}

		entry = StateReconnecting
	}
}

// establish dials until a session is live. It returns nil only when ctx
// ends; past MaxAttempts it keeps probing in degraded mode.
func (c *Client) establish(ctx context.Context, entry State) feed.Subscription {
	c.setState(entry)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil
		}

		sub, err := c.connect(ctx)
		if err == nil {
			return sub
		}
		if ctx.Err() != nil {
			return nil
		}

		observeDialFailure()
		c.noteDialFailure(attempt, err)

		if !sleepCtx(ctx, c.backoff.delay(attempt)) {
			return nil
		}
	}
}

// noteDialFailure moves the state machine after a failed dial. Until
// MaxAttempts the client counts as Reconnecting; from then on it is
// Disconnected and degraded.
func (c *Client) noteDialFailure(attempt int, err error) {
	if attempt >= c.maxAttempts {
		c.setState(StateDisconnected)
		if c.degraded.CompareAndSwap(false, true) {
			log.Error().Err(err).Int("attempts", attempt).
				Msg("sync client degraded, mutations queue until the feed returns")
		}
		return
	}

	c.setState(StateReconnecting)
	log.Warn().Err(err).Int("attempt", attempt).Msg("sync client dial failed")
}

// connect runs the ping and subscribe handshake, bounded by
// ConnectTimeout.
func (c *Client) connect(ctx context.Context) (feed.Subscription, error) {
	hctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if err := c.feed.Ping(hctx); err != nil {
		return nil, timeoutErr(hctx, ctx, err, "feed ping")
	}

	sub, err := c.feed.Subscribe(hctx, c.filter)
	if err != nil {
		return nil, timeoutErr(hctx, ctx, err, "feed subscribe")
	}

	return sub, nil
}

type sessionEnd int

const (
	endShutdown sessionEnd = iota
	endTransport
)

// session pumps messages and heartbeats until the transport fails or
// ctx ends.
func (c *Client) session(ctx context.Context, sub feed.Subscription) sessionEnd {
	heartbeat := time.NewTicker(c.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return endShutdown

		case msg, ok := <-sub.Messages():
			if !ok {
				log.Warn().Msg("feed subscription closed under the client")
				return endTransport
			}
			c.applyBatch(ctx, c.collect(msg, sub.Messages()))

		case <-heartbeat.C:
			if err := c.heartbeat(ctx); err != nil {
				log.Warn().Err(err).Msg("heartbeat missed")
				return endTransport
			}
		}
	}
}

// heartbeat pings the transport, bounded by HeartbeatTimeout.
func (c *Client) heartbeat(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, c.heartbeatTimeout)
	defer cancel()

	if err := c.feed.Ping(hctx); err != nil {
		return timeoutErr(hctx, ctx, err, "heartbeat")
	}

	return nil
}

// drainQueue replays offline mutations after a connect. A failed entry
// stays queued and the next session retries it.
func (c *Client) drainQueue(ctx context.Context) {
	if c.queue == nil || c.replay == nil {
		return
	}

	report, err := c.queue.Replay(ctx, c.replay)
	if err != nil {
		log.Warn().Err(err).Int("applied", report.Applied).
			Int64("remaining", report.Remaining).Msg("offline replay stopped early")
		return
	}
	if report.Applied > 0 {
		log.Info().Int("applied", report.Applied).Msg("offline queue drained")
	}
}

// timeoutErr maps a handshake deadline hit to ErrSyncTimeout; other
// failures pass through. A cancelled parent means shutdown, not a
// timeout.
func timeoutErr(hctx, ctx context.Context, err error, op string) error {
	if hctx.Err() != nil && ctx.Err() == nil {
		return errors.Wrap(ErrSyncTimeout, op)
	}
	return err
}

// sleepCtx pauses for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
