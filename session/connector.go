package session

import (
	"context"
	"fmt"

	"cometa/ensemble"
	"cometa/handshake"
)

// Connector bundles everything a (re)connect attempt needs: where to
// discover candidate relay members, how to pick one, and the handshake
// parameters to run against whichever address wins. A fresh Connect call
// re-discovers and re-selects every time — a reconnection always races a
// freshly resolved ensemble, it never retries the previously chosen
// address.
type Connector struct {
	Source   ensemble.Source
	Selector ensemble.Selector
	// Handshake carries every handshake.Config field except RelayAddr,
	// which Connect fills in from the selector's winner on each call.
	Handshake handshake.Config
}

// Connect discovers the ensemble, selects a member, and runs the
// three-step handshake against it.
func (c Connector) Connect(ctx context.Context) (*handshake.Result, error) {
	instances, err := c.Source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: discovering ensemble: %v", handshake.ErrNetwork, err)
	}

	instance, err := c.Selector.Select(ctx, instances)
	if err != nil {
		return nil, fmt.Errorf("%w: selecting ensemble member: %v", handshake.ErrNetwork, err)
	}

	cfg := c.Handshake
	cfg.RelayAddr = instance.Addr
	return handshake.Run(ctx, cfg)
}
