package ensemble

import (
	"context"
	"fmt"
	"sync/atomic"
)

// RoundRobinSelector hands out candidates in rotation, one per connect
// attempt. No probing, no weighting — a predictable spread, which is
// mostly what a test rig wants when it runs a handful of mock relays and
// needs each one visited.
type RoundRobinSelector struct {
	next atomic.Uint64
}

func (s *RoundRobinSelector) Name() string { return "RoundRobin" }

func (s *RoundRobinSelector) Select(ctx context.Context, instances []RelayInstance) (*RelayInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("ensemble: no candidates to select from")
	}
	turn := s.next.Add(1) - 1
	chosen := instances[turn%uint64(len(instances))]
	return &chosen, nil
}
