package ensemble

import (
	"context"
	"fmt"
	"hash/crc32"
	"sort"
)

// AffinitySelector maps a device id to the same relay instance across
// reconnections using a hash ring, the same way a consistent-hash load
// balancer pins a cache key to the same backend. Useful for fleets that
// would rather avoid cross-server handshake churn on a flaky link than
// re-run a fresh latency race on every reconnect.
//
// Virtual nodes: each instance maps to Replicas points on the ring so a
// handful of real instances don't cluster unevenly (see consistent hashing
// literature); 100 per instance gives reasonable uniformity without
// needing a large ring for small ensembles.
type AffinitySelector struct {
	DeviceID string
	Replicas int
}

// NewAffinitySelector returns a selector that always picks the ensemble
// member closest, on the ring, to deviceID.
func NewAffinitySelector(deviceID string) *AffinitySelector {
	return &AffinitySelector{DeviceID: deviceID, Replicas: 100}
}

func (s *AffinitySelector) Name() string { return "Affinity" }

func (s *AffinitySelector) Select(ctx context.Context, instances []RelayInstance) (*RelayInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("ensemble: no candidates to select from")
	}
	replicas := s.Replicas
	if replicas <= 0 {
		replicas = 100
	}

	ring := make([]uint32, 0, len(instances)*replicas)
	nodes := make(map[uint32]*RelayInstance, len(instances)*replicas)
	for i := range instances {
		inst := instances[i]
		for r := 0; r < replicas; r++ {
			key := fmt.Sprintf("%s#%d", inst.Addr, r)
			hash := crc32.ChecksumIEEE([]byte(key))
			ring = append(ring, hash)
			nodes[hash] = &inst
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	hash := crc32.ChecksumIEEE([]byte(s.DeviceID))
	idx := sort.Search(len(ring), func(i int) bool { return ring[i] >= hash })
	if idx == len(ring) {
		idx = 0
	}
	return nodes[ring[idx]], nil
}
