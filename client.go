/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

/*****************************
 *          Client
 *****************************/

// Client is the top-level handle grouping every shard a bot runs under one
// token, logger, rate-limit coordinator and event dispatcher.
//
// Grounded in goda's client.go, restructured around the C1-C5 component
// split spec.md describes instead of goda's fused Shard/CacheManager/
// dispatcher trio: Client now owns a RateLimitCoordinator (C1) and
// HTTPGate (C2) shared by every shard's REST traffic, one Session/
// Connection/DispatchExecutor triple per shard (C3/C4), an EventDispatcher
// shared across shards for handler registration, and a ShardSupervisor
// (C5) that paces the initial launch.
type Client struct {
	ctx context.Context

	Logger Logger

	token   string
	intents GatewayIntent

	useCompression        bool
	configuredTotalShards int
	identifyLimit         int
	decode                DecodeFunc

	identifyLimiter ShardsIdentifyRateLimiter

	coordinator *RateLimitCoordinator
	gate        *HTTPGate
	restApi     *restApi
	events      *EventDispatcher
	supervisor  *ShardSupervisor

	mu          sync.Mutex
	sessions    map[int]*Session
	connections map[int]*Connection
	executors   map[int]*DispatchExecutor

	evictStop chan struct{}
}

// clientOption defines a function used to configure Client during creation.
type clientOption func(*Client)

/*****************************
 *       Options
 *****************************/

// normalizeToken strips an optional "Bot " prefix, the same normalization
// goda's WithToken performs before storing a token on the client.
func normalizeToken(token string) string {
	return strings.TrimPrefix(token, "Bot ")
}

// WithToken sets the bot token for your client.
//
// Logs fatal and exits if token is empty or obviously invalid (< 50 chars).
// Removes a "Bot " prefix automatically if provided.
//
// Warning: Never share your bot token publicly.
func WithToken(token string) clientOption {
	if token == "" {
		log.Fatal("WithToken: token must not be empty")
	}
	if len(token) < 50 {
		log.Fatal("WithToken: token invalid")
	}
	token = normalizeToken(token)
	return func(c *Client) {
		c.token = token
	}
}

// WithLogger sets a custom Logger implementation for your client.
//
// Logs fatal and exits if logger is nil.
func WithLogger(logger Logger) clientOption {
	if logger == nil {
		log.Fatal("WithLogger: logger must not be nil")
	}
	return func(c *Client) {
		c.Logger = logger
	}
}

// WithIntents sets Gateway intents for the client's shards.
//
// Usage:
//
//	c := perch.New(ctx, perch.WithIntents(perch.GatewayIntentGuilds, perch.GatewayIntentMessageContent))
func WithIntents(intents ...GatewayIntent) clientOption {
	total := BitFieldAdd(GatewayIntent(0), intents...)
	return func(c *Client) {
		c.intents = total
	}
}

// WithShardsIdentifyRateLimiter sets a custom steady-state
// ShardsIdentifyRateLimiter, overriding the default token-bucket limiter
// built from Discord's advertised max_concurrency.
//
// Logs fatal and exits if rateLimiter is nil.
func WithShardsIdentifyRateLimiter(rateLimiter ShardsIdentifyRateLimiter) clientOption {
	if rateLimiter == nil {
		log.Fatal("WithShardsIdentifyRateLimiter: rateLimiter must not be nil")
	}
	return func(c *Client) {
		c.identifyLimiter = rateLimiter
	}
}

// WithCompression enables zlib-stream payload compression on every shard's
// gateway connection (spec.md §4.4).
func WithCompression() clientOption {
	return func(c *Client) {
		c.useCompression = true
	}
}

// WithTotalShards pins the total shard count instead of letting
// ShardSupervisor.AutoSetup derive it from Discord's recommendation.
func WithTotalShards(total int) clientOption {
	return func(c *Client) {
		c.configuredTotalShards = total
	}
}

// WithDecodeFunc installs a hook invoked with every dispatch payload's
// event name and raw JSON before handlers run, letting a caller decode
// entity-specific shapes perch itself treats opaquely (spec.md §1
// Non-goal).
func WithDecodeFunc(decode DecodeFunc) clientOption {
	return func(c *Client) {
		c.decode = decode
	}
}

/*****************************
 *       Constructor
 *****************************/

// New creates a new Client instance with the provided options.
//
// Defaults:
//   - Logger: zerolog-backed, writing to stdout at Info level.
//   - Intents: Guilds | GuildMessages | GuildMembers.
func New(ctx context.Context, options ...clientOption) *Client {
	if ctx == nil {
		ctx = context.Background()
	}

	client := &Client{
		ctx:    ctx,
		Logger: NewDefaultLogger(nil, LogLevelInfoLevel),
		intents: GatewayIntentGuilds |
			GatewayIntentGuildMessages |
			GatewayIntentGuildMembers,
		sessions:    make(map[int]*Session),
		connections: make(map[int]*Connection),
		executors:   make(map[int]*DispatchExecutor),
		evictStop:   make(chan struct{}),
	}

	for _, option := range options {
		option(client)
	}

	client.coordinator = NewRateLimitCoordinator()
	client.gate = NewHTTPGate(nil, client.token, client.Logger, client.coordinator)
	client.restApi = newRestApi(client.gate, client.Logger)
	client.events = NewEventDispatcher(client.Logger)
	client.supervisor = newShardSupervisor(client)

	go client.coordinator.RunEvictionLoop(time.Minute, client.Logger, client.evictStop)

	return client
}

// On registers a handler for the given Discord event name (e.g.
// "MESSAGE_CREATE"). Handlers are invoked in registration order, on the
// dispatching shard's own single-worker executor.
func (c *Client) On(eventName string, handler func(DispatchedEvent)) {
	c.events.On(eventName, handler)
}

// OnAny registers a handler invoked for every dispatched event.
func (c *Client) OnAny(handler func(DispatchedEvent)) {
	c.events.OnAny(handler)
}

// Shards returns the ShardSupervisor (C5) used to set up and launch shards.
func (c *Client) Shards() *ShardSupervisor {
	return c.supervisor
}

/*****************************
 *       Start
 *****************************/

// Start auto-configures shards from Discord's recommendation (unless
// Shards().Add was already used to register shard ids explicitly) and
// launches them, then blocks until ctx is done. WithTotalShards overrides
// only the total shard count sent in Identify; it does not skip AutoSetup.
//
// The lifetime of the client is controlled by the context passed to New:
//   - nil / context.Background(): Start never returns. Calling Shutdown
//     from elsewhere closes the shards but does not unblock Start.
//   - a cancellable context: Start returns once it is cancelled or times
//     out, after shutting down gracefully.
func (c *Client) Start() error {
	if c.token == "" {
		return ErrNoToken
	}

	c.supervisor.mu.Lock()
	haveShards := len(c.supervisor.managedShards) > 0
	c.supervisor.mu.Unlock()

	if !haveShards {
		if _, err := c.supervisor.AutoSetup(c.ctx); err != nil {
			return err
		}
	}
	if c.configuredTotalShards > 0 {
		c.supervisor.SetTotalShards(c.configuredTotalShards)
	}

	if c.identifyLimiter == nil {
		limit := c.identifyLimit
		if limit < 1 {
			limit = 1
		}
		c.identifyLimiter = NewDefaultShardsRateLimiter(limit, 5*time.Second)
	}

	if err := c.supervisor.Launch(c.ctx); err != nil {
		return err
	}

	<-c.ctx.Done()
	if err := c.ctx.Err(); err != nil {
		c.Logger.WithField("err", err).Error("client shutting down due to context error")
	}
	c.Shutdown()
	return nil
}

// launchShard builds the Session/Connection/DispatchExecutor triple for one
// shard and dials it. Called by ShardSupervisor once per managed shard,
// already paced by the supervisor's launch clock.
func (c *Client) launchShard(ctx context.Context, shardID, totalShards int) error {
	session := NewSession(shardID, totalShards, c.token, c.intents)
	executor := NewDispatchExecutor(c.Logger, 256)
	conn := NewConnection(
		shardID, c.intents, c.Logger, session, executor, c.events,
		c.identifyLimiter, c.useCompression, c.decode,
	)

	c.mu.Lock()
	c.sessions[shardID] = session
	c.connections[shardID] = conn
	c.executors[shardID] = executor
	c.mu.Unlock()

	return conn.connect(ctx)
}

// Latency returns the most recent heartbeat round-trip time for shardID in
// milliseconds, or 0 if the shard is unknown or has not completed a
// heartbeat yet.
func (c *Client) Latency(shardID int) int64 {
	c.mu.Lock()
	conn, ok := c.connections[shardID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	return conn.Latency()
}

/*****************************
 *       Shutdown
 *****************************/

// Shutdown cleanly shuts down the Client: every shard's connection and
// dispatch executor, then the shared REST transport.
func (c *Client) Shutdown() {
	c.Logger.Info("client shutting down")
	close(c.evictStop)

	c.mu.Lock()
	connections := c.connections
	executors := c.executors
	c.connections = make(map[int]*Connection)
	c.executors = make(map[int]*DispatchExecutor)
	c.mu.Unlock()

	for _, conn := range connections {
		conn.Shutdown()
	}
	for _, executor := range executors {
		executor.Shutdown()
	}

	c.restApi.Shutdown()
}
