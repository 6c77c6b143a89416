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
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	gatewayVersion = "10"
	gatewayURL     = "wss://gateway.discord.gg/?v=" + gatewayVersion + "&encoding=json"
)

// reconnectDelays is the saturating backoff schedule a Connection walks on
// repeated reconnect failures (spec.md §4.3), taken verbatim from
// original_source/src/gateway/mod.rs's Delayer::DELAYS: the delay grows
// each attempt until it reaches the last entry, where it holds.
var reconnectDelays = [...]time.Duration{
	5 * time.Second, 5 * time.Second, 5 * time.Second, 15 * time.Second,
	30 * time.Second, 60 * time.Second, 120 * time.Second, 120 * time.Second,
	300 * time.Second, 600 * time.Second,
}

// ShardsIdentifyRateLimiter controls the frequency of Identify payloads a
// process-wide set of shards may send, per Discord's max_concurrency.
// Implementations block the caller in Wait() until a slot is available.
type ShardsIdentifyRateLimiter interface {
	Wait()
}

// DefaultShardsRateLimiter is a token-bucket ShardsIdentifyRateLimiter
// backed by a buffered channel, refilled on a fixed interval. It governs
// the steady-state rate at which any one shard may (re)identify — separate
// from ShardSupervisor's launch-time pacing (C5), which only matters for
// the initial burst of shards coming online (spec.md §4.5).
type DefaultShardsRateLimiter struct {
	tokens chan struct{}
}

var _ ShardsIdentifyRateLimiter = (*DefaultShardsRateLimiter)(nil)

// NewDefaultShardsRateLimiter creates a rate limiter allowing r Identify
// sends per interval.
func NewDefaultShardsRateLimiter(r int, interval time.Duration) *DefaultShardsRateLimiter {
	rl := &DefaultShardsRateLimiter{tokens: make(chan struct{}, r)}
	for range r {
		rl.tokens <- struct{}{}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			for range r {
				select {
				case rl.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()
	return rl
}

func (rl *DefaultShardsRateLimiter) Wait() { <-rl.tokens }

// Connection owns the websocket socket for one shard (C3): dialing,
// reading frames, optional zlib-stream decompression, and the reconnect
// backoff loop. It delegates every protocol decision — what to send on
// Hello, whether Invalid Session means Resume or fresh Identify, heartbeat
// liveness — to a Session (C4), per spec.md §3's Ownership split.
//
// Grounded in goda's shard.go connect/readLoop/reconnect, with the zlib
// decompressor wired in (goda's own zlib_pool.go, previously unused by any
// gateway code path) and the reconnect backoff replaced with the saturating
// schedule spec.md mandates instead of the teacher's unbounded linear
// backoff.
type Connection struct {
	shardID int
	intents GatewayIntent

	logger          Logger
	session         *Session
	executor        *DispatchExecutor
	events          *EventDispatcher
	decode          DecodeFunc
	identifyLimiter ShardsIdentifyRateLimiter
	useCompression  bool

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	zlib *zlibReaderWrapper

	heartbeatSentAt  atomic.Int64 // MonotonicNow() of the last heartbeat send
	reconnectAttempt atomic.Int32 // index into reconnectDelays; reset on Ready/Resumed, not on a bare dial
}

// DecodeFunc lets a caller observe every dispatch payload by event name
// without perch decoding entity-specific shapes itself (spec.md §1
// Non-goal: entity payload wire formats are out of scope). Returning a
// non-nil error only logs; it never tears down the connection.
type DecodeFunc func(eventName string, raw []byte) (any, error)

// NewConnection constructs a Connection for one shard. decode may be nil,
// in which case dispatch handlers receive the raw JSON unmodified.
func NewConnection(
	shardID int, intents GatewayIntent,
	logger Logger, session *Session, executor *DispatchExecutor, events *EventDispatcher,
	limiter ShardsIdentifyRateLimiter, useCompression bool, decode DecodeFunc,
) *Connection {
	return &Connection{
		shardID:         shardID,
		intents:         intents,
		logger:          logger,
		session:         session,
		executor:        executor,
		events:          events,
		identifyLimiter: limiter,
		useCompression:  useCompression,
		decode:          decode,
	}
}

func (c *Connection) logPrefix() string {
	return fmt.Sprintf("shard %d: ", c.shardID)
}

// connect dials the gateway (resuming if Session has a resume URL) and
// starts the read loop. It does not block past the handshake dial.
func (c *Connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()

	url := c.session.ResumeURL()
	if url == "" {
		url = gatewayURL
	}
	if c.useCompression {
		url += "&compress=zlib-stream"
	}

	dialer := ws.Dialer{}
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	if c.useCompression {
		c.zlib = AcquireZlibReader()
	}
	c.mu.Unlock()

	c.logger.Info(c.logPrefix() + "connected")
	go c.readLoop()
	return nil
}

// readLoop is the single goroutine that owns the socket's read side. It
// decodes frames, hands Dispatch payloads to the DispatchExecutor in
// arrival order, and drives every other opcode into the Session.
func (c *Connection) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			c.logger.Error(c.logPrefix() + "read error: " + err.Error())
			c.scheduleReconnect()
			return
		}

		if c.useCompression && op == ws.OpBinary {
			decompressed, derr := c.zlib.Decompress(msg)
			if derr != nil {
				c.logger.Error(c.logPrefix() + "zlib decompress error: " + derr.Error())
				continue
			}
			if decompressed == nil {
				continue // incomplete frame of a multi-part zlib-stream message
			}
			msg = decompressed
		} else if op != ws.OpText {
			continue
		}

		var payload gatewayPayload
		if err := sonic.Unmarshal(msg, &payload); err != nil {
			c.logger.Error(c.logPrefix() + "unmarshal error: " + err.Error())
			continue
		}

		c.handlePayload(payload)
	}
}

func (c *Connection) handlePayload(payload gatewayPayload) {
	switch payload.Op {
	case gatewayOpcodeDispatch:
		c.session.ObserveSequence(payload.S)
		c.handleDispatch(payload.T, payload.D)

	case gatewayOpcodeReconnect:
		c.logger.Info(c.logPrefix() + "RECONNECT received")
		c.scheduleReconnect()

	case gatewayOpcodeInvalidSession:
		var resumable bool
		sonic.Unmarshal(payload.D, &resumable)
		time.Sleep(time.Second)
		if resumable {
			c.logger.Info(c.logPrefix() + "session invalid (resumable), resuming")
			c.sendResume()
		} else {
			c.logger.Info(c.logPrefix() + "session invalid (non-resumable), identifying")
			c.session.InvalidateSession()
			c.sendIdentify()
		}

	case gatewayOpcodeHello:
		var hello struct {
			HeartbeatInterval float64 `json:"heartbeat_interval"`
		}
		sonic.Unmarshal(payload.D, &hello)
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		c.session.SetHeartbeatInterval(interval)
		c.logger.Debug(c.logPrefix() + "HELLO received")
		go c.heartbeatLoop(interval)

		if c.session.Resumable() {
			c.sendResume()
		} else {
			c.sendIdentify()
		}

	case gatewayOpcodeHeartbeatACK:
		var rtt time.Duration
		if sentAt := c.heartbeatSentAt.Load(); sentAt > 0 {
			rtt = time.Duration(MonotonicSince(sentAt))
		}
		c.session.ObserveHeartbeatACK(rtt)
		c.logger.Debug(c.logPrefix() + "heartbeat ACKed")

	case gatewayOpcodeHeartbeat:
		c.sendHeartbeat()
	}
}

// handleDispatch submits the event to the shard's DispatchExecutor so that
// event n+1 never starts before every handler has returned from event n
// (spec.md §5, §8). READY/RESUMED are also intercepted here to update
// Session before the caller's own handlers run.
func (c *Connection) handleDispatch(eventName string, raw []byte) {
	if eventName == "READY" {
		var ready ReadyPayload
		sonic.Unmarshal(raw, &ready)
		c.session.ObserveReady(ready.SessionID, ready.ResumeGatewayURL)
		c.reconnectAttempt.Store(0)
		c.logger.Debug(c.logPrefix() + "session established")
	} else if eventName == "RESUMED" {
		c.session.ObserveResumed()
		c.reconnectAttempt.Store(0)
	}

	var decoded any
	if c.decode != nil {
		var err error
		decoded, err = c.decode(eventName, raw)
		if err != nil {
			decoded = nil
			c.logger.Warn(c.logPrefix() + "decode error for " + eventName + ": " + err.Error())
		}
	}

	if !c.executor.Submit(func() {
		c.events.Dispatch(DispatchedEvent{ShardID: c.shardID, Name: eventName, Raw: raw, Decoded: decoded})
	}) {
		c.logger.Debug(c.logPrefix() + "dropped dispatch task after shutdown")
	}
}

func (c *Connection) send(v any) error {
	payload, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}
	return wsutil.WriteClientMessage(conn, ws.OpText, payload)
}

func (c *Connection) sendIdentify() error {
	c.session.BeginIdentifying()
	c.identifyLimiter.Wait()
	return c.send(c.session.IdentifyPayload())
}

func (c *Connection) sendResume() error {
	c.session.BeginResuming()
	return c.send(c.session.ResumePayload())
}

func (c *Connection) sendHeartbeat() error {
	c.session.ArmHeartbeatACK()
	c.heartbeatSentAt.Store(MonotonicNow())
	return c.send(c.session.HeartbeatPayload())
}

// heartbeatLoop sends a Heartbeat on every tick and reconnects if the
// previous one was never ACKed (spec.md §4.4 zombie detection).
func (c *Connection) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if c.session.IsZombie() {
			c.logger.Error(c.logPrefix() + "heartbeat not ACKed, reconnecting")
			c.scheduleReconnect()
			return
		}
		if err := c.sendHeartbeat(); err != nil {
			c.logger.Error(c.logPrefix() + "heartbeat send error: " + err.Error())
			c.scheduleReconnect()
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
	}
}

// scheduleReconnect runs the saturating backoff loop in its own goroutine
// so the caller (read loop or heartbeat loop) can return immediately.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.zlib != nil {
		ReleaseZlibReader(c.zlib)
		c.zlib = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	go c.reconnect()
}

// reconnect walks the saturating backoff schedule starting from the
// Connection's current reconnectAttempt index rather than always from 0: a
// dial that succeeds but never reaches a handshake (Ready or Resumed)
// before the socket drops again must keep escalating, not restart the
// schedule. The counter only resets in handleDispatch on READY/RESUMED
// (spec.md §4.3).
func (c *Connection) reconnect() {
	for {
		idx := int(c.reconnectAttempt.Load())
		if idx >= len(reconnectDelays) {
			idx = len(reconnectDelays) - 1
		}
		time.Sleep(reconnectDelays[idx])
		c.reconnectAttempt.Add(1)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.logger.Debug(c.logPrefix() + "reconnected")
			return
		}
		c.logger.Error(c.logPrefix() + "reconnect attempt failed: " + err.Error())
	}
}

// Latency returns the shard's most recent heartbeat round-trip time.
func (c *Connection) Latency() int64 {
	return c.session.Latency()
}

// Shutdown closes the socket and stops any further reconnect attempts.
func (c *Connection) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.zlib != nil {
		ReleaseZlibReader(c.zlib)
		c.zlib = nil
	}
	if c.conn != nil {
		c.logger.Info(c.logPrefix() + "shutting down")
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
