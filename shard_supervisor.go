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
	"sync"
	"time"
)

// launchPaceStep is the spacing between two shards' first Identify during a
// single ShardSupervisor.Launch burst, grounded in
// original_source/src/sharding.rs's ShardManager.launch
// ("position as u64 * 5500" milliseconds): Discord allows one Identify per
// 5 seconds per max_concurrency bucket, so 5.5s per spawn index leaves
// margin against jitter. This only paces the initial burst; steady-state
// reconnect pacing is DefaultShardsRateLimiter's job (spec.md §4.5).
const launchPaceStep = 5500 * time.Millisecond

// launchDelay returns how long Launch waits before dialing the shard at the
// given spawn index, split out as a pure function so the pacing rule is
// testable without spinning up real goroutines or gateway connections.
func launchDelay(position int) time.Duration {
	return time.Duration(position) * launchPaceStep
}

// ShardSupervisor manages the set of shards a Client runs (C5): which shard
// ids are managed, how many shards total, and the paced launch of their
// first connection.
//
// Grounded in original_source/src/sharding.rs's ShardManager: Add/
// AutoSetup/SetTotalShards/Launch mirror its setup/auto_setup/
// set_total_shards/launch one-for-one, including the panic-if-already-
// launched guard on SetTotalShards and the per-spawn-index launch pacing.
type ShardSupervisor struct {
	client *Client

	mu            sync.Mutex
	totalShards   int
	managedShards []int
	launched      bool
}

func newShardSupervisor(client *Client) *ShardSupervisor {
	return &ShardSupervisor{client: client}
}

// Add registers shardID to be launched. It is a no-op to call Add after
// Launch; callers should set up every shard id first.
func (s *ShardSupervisor) Add(shardID int) *ShardSupervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.managedShards = append(s.managedShards, shardID)
	return s
}

// AutoSetup fetches Discord's recommended shard count and registers shard
// ids 0..recommended-1. It also sets TotalShards to the recommended count
// unless SetTotalShards was already called.
func (s *ShardSupervisor) AutoSetup(ctx context.Context) (*ShardSupervisor, error) {
	bot, err := s.client.restApi.FetchGatewayBot(ctx)
	if err != nil {
		return s, err
	}

	s.mu.Lock()
	if s.totalShards == 0 {
		s.totalShards = bot.Shards
	}
	for i := 0; i < bot.Shards; i++ {
		s.managedShards = append(s.managedShards, i)
	}
	s.mu.Unlock()

	s.client.identifyLimit = bot.SessionStartLimit.MaxConcurrency
	return s, nil
}

// SetTotalShards overrides the total shard count used to compute each
// shard's [shard_id, total_shards] Identify field. Panics if any shard has
// already been launched, mirroring ShardManager.set_total_shards: the
// total shard count determines which guilds route to which shard, so
// changing it after shards are live would silently desync routing.
func (s *ShardSupervisor) SetTotalShards(total int) *ShardSupervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.launched {
		panic("perch: changing total shards count after a shard has been launched is not possible")
	}
	s.totalShards = total
	return s
}

// Launch connects every registered shard, staggering each shard's first
// Identify by its spawn index times launchPaceStep so a burst of shards
// coming online together does not exceed Discord's per-max_concurrency
// Identify rate. It returns once every shard's initial dial has completed
// (successfully or not); reconnects after that happen independently on
// each shard's own Connection.
func (s *ShardSupervisor) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.launched {
		s.mu.Unlock()
		return ErrShardAlreadyLaunched
	}
	s.launched = true
	shardIDs := append([]int(nil), s.managedShards...)
	total := s.totalShards
	if total == 0 {
		total = len(shardIDs)
	}
	s.mu.Unlock()

	if total > 0 && len(shardIDs) < total {
		s.client.Logger.Warn(fmt.Sprintf(
			"shard supervisor: %d shard(s) registered but total_shards is %d; some guilds will have no owning shard",
			len(shardIDs), total,
		))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(shardIDs))

	for position, shardID := range shardIDs {
		position, shardID := position, shardID
		wg.Add(1)
		go func() {
			defer wg.Done()
			delay := launchDelay(position)
			if delay > 0 {
				t := time.NewTimer(delay)
				defer t.Stop()
				select {
				case <-t.C:
				case <-ctx.Done():
					errs[position] = ctx.Err()
					return
				}
			}
			errs[position] = s.client.launchShard(ctx, shardID, total)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
