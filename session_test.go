/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"testing"
	"time"
)

func TestSession_FreshSessionIdentifies(t *testing.T) {
	s := NewSession(0, 1, "token", GatewayIntentGuilds)
	if s.Phase() != PhaseAwaitingHello {
		t.Fatalf("expected PhaseAwaitingHello, got %v", s.Phase())
	}
	if s.Resumable() {
		t.Fatal("a fresh session must not be resumable")
	}

	payload := s.IdentifyPayload()
	if payload["op"] != gatewayOpcodeIdentify {
		t.Fatalf("expected Identify opcode, got %v", payload["op"])
	}
}

func TestSession_ReadyMakesResumable(t *testing.T) {
	s := NewSession(1, 4, "token", GatewayIntentGuilds)
	s.ObserveSequence(5)
	s.ObserveReady("session-abc", "wss://resume.example/")

	if s.Phase() != PhaseRunning {
		t.Fatalf("expected PhaseRunning after Ready, got %v", s.Phase())
	}
	if !s.Resumable() {
		t.Fatal("a session with a session_id and a positive sequence must be resumable")
	}
	if s.ResumeURL() != "wss://resume.example/" {
		t.Fatalf("unexpected resume url: %s", s.ResumeURL())
	}

	resume := s.ResumePayload()
	d := resume["d"].(map[string]any)
	if d["session_id"] != "session-abc" {
		t.Fatalf("unexpected resume session_id: %v", d["session_id"])
	}
	if d["seq"] != int64(5) {
		t.Fatalf("unexpected resume seq: %v", d["seq"])
	}
}

func TestSession_InvalidSessionNonResumableClearsState(t *testing.T) {
	s := NewSession(0, 1, "token", GatewayIntentGuilds)
	s.ObserveSequence(10)
	s.ObserveReady("session-xyz", "wss://resume.example/")

	s.InvalidateSession()

	if s.Resumable() {
		t.Fatal("InvalidateSession must clear resumability")
	}
	if s.Sequence() != 0 {
		t.Fatalf("expected sequence reset to 0, got %d", s.Sequence())
	}
	if s.ResumeURL() != "" {
		t.Fatalf("expected resume url cleared, got %q", s.ResumeURL())
	}
}

func TestSession_ResumedKeepsSessionID(t *testing.T) {
	s := NewSession(0, 1, "token", GatewayIntentGuilds)
	s.ObserveSequence(3)
	s.ObserveReady("session-keep", "wss://resume.example/")

	s.BeginResuming()
	if s.Phase() != PhaseResuming {
		t.Fatalf("expected PhaseResuming, got %v", s.Phase())
	}

	s.ObserveResumed()
	if s.Phase() != PhaseRunning {
		t.Fatalf("expected PhaseRunning after Resumed, got %v", s.Phase())
	}
	if !s.Resumable() {
		t.Fatal("Resumed must not clear session_id/sequence")
	}
}

func TestSession_HeartbeatZombieDetection(t *testing.T) {
	s := NewSession(0, 1, "token", GatewayIntentGuilds)
	if s.IsZombie() {
		t.Fatal("a session with no heartbeat sent yet must not be a zombie")
	}

	s.ArmHeartbeatACK()
	if !s.IsZombie() {
		t.Fatal("a session awaiting a heartbeat ACK must be considered a zombie")
	}

	s.ObserveHeartbeatACK(25 * time.Millisecond)
	if s.IsZombie() {
		t.Fatal("ObserveHeartbeatACK must clear the zombie flag")
	}
	if s.Latency() != 25 {
		t.Fatalf("expected 25ms latency, got %d", s.Latency())
	}
}

func TestSession_HeartbeatPayloadCarriesSequence(t *testing.T) {
	s := NewSession(0, 1, "token", GatewayIntentGuilds)
	if d := s.HeartbeatPayload()["d"]; d != nil {
		t.Fatalf("expected nil sequence before any dispatch, got %v", d)
	}

	s.ObserveSequence(42)
	if d := s.HeartbeatPayload()["d"]; d != int64(42) {
		t.Fatalf("expected sequence 42, got %v", d)
	}
}

func TestDispatchExecutor_OrdersSubmittedTasks(t *testing.T) {
	logger := NewDefaultLogger(nil, LogLevelErrorLevel)
	e := NewDispatchExecutor(logger, 4)
	defer e.Shutdown()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		ok := e.Submit(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
		if !ok {
			t.Fatalf("Submit %d unexpectedly rejected", i)
		}
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch tasks to run")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("expected in-order execution, got %v", order)
		}
	}
}

func TestDispatchExecutor_SubmitFailsAfterShutdown(t *testing.T) {
	logger := NewDefaultLogger(nil, LogLevelErrorLevel)
	e := NewDispatchExecutor(logger, 1)
	e.Shutdown()

	if e.Submit(func() {}) {
		t.Fatal("Submit must return false once the executor has shut down")
	}
}
