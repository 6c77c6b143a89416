/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"sync"
	"sync/atomic"
	"time"
)

// SessionPhase is the state machine Session walks through during the
// handshake and its lifetime (spec.md §4.4): a fresh connection starts at
// PhaseAwaitingHello, moves to PhaseIdentifying or PhaseResuming once Hello
// is seen, then to PhaseRunning once Ready/Resumed arrives.
type SessionPhase int32

const (
	PhaseAwaitingHello SessionPhase = iota
	PhaseIdentifying
	PhaseResuming
	PhaseRunning
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseIdentifying:
		return "identifying"
	case PhaseResuming:
		return "resuming"
	case PhaseRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Session is the protocol state machine for one shard's gateway session:
// sequence number, session_id, resume URL, heartbeat liveness and phase.
// It owns no socket — Connection (C3) owns the socket and calls into
// Session to decide what to send and when the session has gone stale.
//
// Grounded in goda's shard.go opcode switch inside readLoop, relocated onto
// its own type per spec.md §3's "Ownership" note: the send half and the
// session state belong to two conceptually distinct owners, so a Resume
// decision and a reconnect decision can be reasoned about independently of
// the transport.
type Session struct {
	shardID     int
	totalShards int
	token       string
	intents     GatewayIntent

	// seq is the last sequence number seen on a Dispatch payload. Read and
	// written from the single read-loop goroutine and from the heartbeat
	// goroutine, so it is atomic rather than guarded by a mutex.
	seq atomic.Int64

	// sessionIDMu guards sessionID and resumeURL: both are written only by
	// the read loop (on Ready and Invalid Session) and read both there and
	// by the reconnect goroutine, which looks up the resume URL when it
	// redials, so a single mutex is enough — there is exactly one writer at
	// a time by construction, but a reader can race that writer across
	// goroutines.
	sessionIDMu sync.Mutex
	sessionID   string
	resumeURL   string

	phase atomic.Int32

	heartbeatInterval atomic.Int64 // nanoseconds
	ackPending        atomic.Bool
	latencyMs         atomic.Int64
}

// NewSession creates a fresh Session for a shard, with no session_id — the
// first connection always Identifies rather than Resumes.
func NewSession(shardID, totalShards int, token string, intents GatewayIntent) *Session {
	s := &Session{shardID: shardID, totalShards: totalShards, token: token, intents: intents}
	s.phase.Store(int32(PhaseAwaitingHello))
	return s
}

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() SessionPhase {
	return SessionPhase(s.phase.Load())
}

// Sequence returns the last Dispatch sequence number observed.
func (s *Session) Sequence() int64 {
	return s.seq.Load()
}

// ObserveSequence records a Dispatch payload's sequence number.
func (s *Session) ObserveSequence(seq int64) {
	s.seq.Store(seq)
}

// Resumable reports whether the session has enough state to attempt a
// Resume instead of a fresh Identify.
func (s *Session) Resumable() bool {
	s.sessionIDMu.Lock()
	defer s.sessionIDMu.Unlock()
	return s.sessionID != "" && s.seq.Load() > 0
}

// ObserveReady records the session_id and resume_gateway_url carried on a
// Ready dispatch payload, and moves the session into PhaseRunning. The
// session_id is always overwritten; an empty resumeURL keeps the previous
// one. Resumed is handled by ObserveResumed instead.
func (s *Session) ObserveReady(sessionID, resumeURL string) {
	s.sessionIDMu.Lock()
	s.sessionID = sessionID
	if resumeURL != "" {
		s.resumeURL = resumeURL
	}
	s.sessionIDMu.Unlock()
	s.phase.Store(int32(PhaseRunning))
}

// ObserveResumed moves the session into PhaseRunning without touching
// session_id/resumeURL: a Resumed dispatch confirms the existing session.
func (s *Session) ObserveResumed() {
	s.phase.Store(int32(PhaseRunning))
}

// InvalidateSession clears session_id and sequence when Invalid Session
// arrives with d=false (spec.md §4.4): the next handshake must Identify
// fresh rather than Resume. When resumable is true, the caller should
// attempt Resume instead and must not call InvalidateSession.
func (s *Session) InvalidateSession() {
	s.sessionIDMu.Lock()
	s.sessionID = ""
	s.resumeURL = ""
	s.sessionIDMu.Unlock()
	s.seq.Store(0)
}

// ResumeURL returns the gateway URL to reconnect to for a Resume, or empty
// if none has been observed yet (the caller falls back to the default
// gateway URL).
func (s *Session) ResumeURL() string {
	s.sessionIDMu.Lock()
	defer s.sessionIDMu.Unlock()
	return s.resumeURL
}

// BeginIdentifying marks the session as about to send a fresh Identify.
func (s *Session) BeginIdentifying() {
	s.phase.Store(int32(PhaseIdentifying))
}

// BeginResuming marks the session as about to send a Resume.
func (s *Session) BeginResuming() {
	s.phase.Store(int32(PhaseResuming))
}

// IdentifyPayload builds the complete Identify frame (spec.md §6.3), with
// both "op" and "d", which the Connection sends as is.
func (s *Session) IdentifyPayload() map[string]any {
	return map[string]any{
		"op": gatewayOpcodeIdentify,
		"d": map[string]any{
			"token": s.token,
			"properties": map[string]string{
				"os":      "linux",
				"browser": LIB_NAME,
				"device":  LIB_NAME,
			},
			"shard":   [2]int{s.shardID, s.totalShards},
			"intents": s.intents,
		},
	}
}

// ResumePayload builds the complete Resume frame (spec.md §6.3), with both
// "op" and "d".
func (s *Session) ResumePayload() map[string]any {
	s.sessionIDMu.Lock()
	sessionID := s.sessionID
	s.sessionIDMu.Unlock()

	return map[string]any{
		"op": gatewayOpcodeResume,
		"d": map[string]any{
			"token":      s.token,
			"session_id": sessionID,
			"seq":        s.seq.Load(),
		},
	}
}

// HeartbeatPayload builds the complete Heartbeat frame, whose "d" carries
// the last observed sequence number (nil if none yet).
func (s *Session) HeartbeatPayload() map[string]any {
	var d any
	if seq := s.seq.Load(); seq > 0 {
		d = seq
	}
	return map[string]any{
		"op": gatewayOpcodeHeartbeat,
		"d":  d,
	}
}

// SetHeartbeatInterval records the interval named in Hello.
func (s *Session) SetHeartbeatInterval(d time.Duration) {
	s.heartbeatInterval.Store(int64(d))
}

// HeartbeatInterval returns the interval named in Hello.
func (s *Session) HeartbeatInterval() time.Duration {
	return time.Duration(s.heartbeatInterval.Load())
}

// ArmHeartbeatACK marks a heartbeat as sent and awaiting acknowledgement.
func (s *Session) ArmHeartbeatACK() {
	s.ackPending.Store(true)
}

// ObserveHeartbeatACK records a Heartbeat ACK, clearing the zombie flag and
// recording round-trip latency.
func (s *Session) ObserveHeartbeatACK(rtt time.Duration) {
	s.ackPending.Store(false)
	s.latencyMs.Store(rtt.Milliseconds())
}

// IsZombie reports whether the previous heartbeat was never acknowledged
// (spec.md §4.4 zombie detection): the connection must be torn down and
// reconnected rather than left to hang.
func (s *Session) IsZombie() bool {
	return s.ackPending.Load()
}

// Latency returns the most recently observed heartbeat round-trip time in
// milliseconds.
func (s *Session) Latency() int64 {
	return s.latencyMs.Load()
}
