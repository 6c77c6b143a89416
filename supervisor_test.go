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

func TestLaunchDelay_Pacing(t *testing.T) {
	cases := []struct {
		position int
		want     time.Duration
	}{
		{0, 0},
		{1, 5500 * time.Millisecond},
		{2, 11 * time.Second},
	}
	for _, c := range cases {
		if got := launchDelay(c.position); got != c.want {
			t.Fatalf("position %d: expected %s, got %s", c.position, c.want, got)
		}
	}
}

func TestShardSupervisor_AddRegistersShards(t *testing.T) {
	s := &ShardSupervisor{client: &Client{Logger: NewDefaultLogger(nil, LogLevelErrorLevel)}}
	s.Add(0).Add(1).Add(2)

	if len(s.managedShards) != 3 {
		t.Fatalf("expected 3 managed shards, got %d", len(s.managedShards))
	}
}

func TestShardSupervisor_SetTotalShardsPanicsAfterLaunch(t *testing.T) {
	s := &ShardSupervisor{client: &Client{Logger: NewDefaultLogger(nil, LogLevelErrorLevel)}, launched: true}

	defer func() {
		if recover() == nil {
			t.Fatal("expected SetTotalShards to panic once a shard has launched")
		}
	}()
	s.SetTotalShards(4)
}

func TestShardSupervisor_LaunchTwiceFails(t *testing.T) {
	s := &ShardSupervisor{client: &Client{Logger: NewDefaultLogger(nil, LogLevelErrorLevel)}, launched: true}
	if err := s.Launch(nil); err != ErrShardAlreadyLaunched {
		t.Fatalf("expected ErrShardAlreadyLaunched, got %v", err)
	}
}
