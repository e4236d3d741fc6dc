// Package ensemble resolves the relay DNS name into its candidate member
// addresses and selects one to connect to.
//
// "Ensemble" is the set of relay server instances behind one DNS name; the
// client races a TCP connect against every resolved address and picks the
// lowest-latency responder. Resolution (Source) and selection (Selector)
// are split so an operator running a private relay fleet can plug in a
// different candidate source (etcd-backed service discovery) without
// touching the selection strategy, and vice versa.
package ensemble

import "context"

// RelayInstance is one member of the ensemble, as seen before any
// connect probe has run. Weight is an operator-assigned capacity hint
// (DNS-sourced candidates default to 1); Version is populated only for
// etcd-sourced candidates that advertise one.
type RelayInstance struct {
	Addr    string
	Weight  int
	Version string
}

// Source discovers the current set of ensemble member addresses. Discover
// is called once per connect attempt (including every reconnection);
// Watch, where supported, lets a long-lived caller react to membership
// changes without polling.
type Source interface {
	Discover(ctx context.Context) ([]RelayInstance, error)
	Watch(ctx context.Context) <-chan []RelayInstance
}

// Candidate is a RelayInstance augmented with the outcome of a connect
// probe: how long the TCP handshake took, or the error if it failed.
// Scoped to one connect attempt — discarded once selection completes.
type Candidate struct {
	Instance RelayInstance
	Delay    int64 // microseconds; meaningless if Err != nil
	Err      error
}

// Selector picks one instance from a list of candidates. LatencyRaceSelector
// is the required strategy; the others are additions for fleets that want
// affinity or weighted spread instead of a fresh latency race on every
// reconnect.
type Selector interface {
	Select(ctx context.Context, instances []RelayInstance) (*RelayInstance, error)
	Name() string
}
