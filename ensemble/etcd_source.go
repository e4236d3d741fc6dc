// EtcdSource lets an operator running a private relay fleet (rather than
// the public ensemble.cometa.io) register relay instances in etcd instead
// of (or alongside) DNS, and point a device fleet's Subscribe call at this
// source.
//
// Same key layout idea as an RPC service registry (a prefix per logical
// group, TTL leases, Watch API), renamed from RPC service instances to
// relay ensemble members.
package ensemble

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdSource discovers relay instances registered under
// /cometa/ensemble/<addr> in etcd.
type EtcdSource struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdSource connects to the given etcd endpoints and returns a Source
// scoped to the default /cometa/ensemble/ key prefix.
func NewEtcdSource(endpoints []string) (*EtcdSource, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdSource{client: c, prefix: "/cometa/ensemble/"}, nil
}

// RegisterSelf lets a relay operator advertise one relay instance under a
// TTL lease — the mirror image of Discover, used by the relay side of a
// private deployment, not by the device client itself. Kept here because
// it shares the client and key layout with Discover/Watch.
func (s *EtcdSource) RegisterSelf(ctx context.Context, instance RelayInstance, ttlSeconds int64) error {
	lease, err := s.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	if _, err := s.client.Put(ctx, s.prefix+instance.Addr, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := s.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Discover returns every relay instance currently registered under the
// ensemble prefix.
func (s *EtcdSource) Discover(ctx context.Context) ([]RelayInstance, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]RelayInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance RelayInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits a refreshed instance list whenever the ensemble prefix
// changes in etcd (new member, removal, lease expiry).
func (s *EtcdSource) Watch(ctx context.Context) <-chan []RelayInstance {
	out := make(chan []RelayInstance, 1)
	go func() {
		watchChan := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := s.Discover(ctx)
			if err != nil {
				continue
			}
			out <- instances
		}
	}()
	return out
}
