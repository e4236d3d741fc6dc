package ensemble

import (
	"context"
	"fmt"
	"net"
)

// DefaultRelayHost is the relay ensemble's DNS name.
const DefaultRelayHost = "ensemble.cometa.io"

// DNSSource resolves Host into its full A-record set on every Discover
// call. It is the baseline ensemble source; every candidate gets Weight 1
// since DNS carries no capacity hint.
type DNSSource struct {
	Host     string
	Port     string
	Resolver *net.Resolver
}

// NewDNSSource builds a Source resolving host:port. An empty host defaults
// to DefaultRelayHost.
func NewDNSSource(host, port string) *DNSSource {
	if host == "" {
		host = DefaultRelayHost
	}
	return &DNSSource{Host: host, Port: port}
}

func (s *DNSSource) resolver() *net.Resolver {
	if s.Resolver != nil {
		return s.Resolver
	}
	return net.DefaultResolver
}

// Discover resolves Host to its current A/AAAA records.
func (s *DNSSource) Discover(ctx context.Context) ([]RelayInstance, error) {
	ips, err := s.resolver().LookupHost(ctx, s.Host)
	if err != nil {
		return nil, fmt.Errorf("ensemble: resolving %s: %w", s.Host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("ensemble: %s resolved to no addresses", s.Host)
	}

	instances := make([]RelayInstance, 0, len(ips))
	for _, ip := range ips {
		instances = append(instances, RelayInstance{
			Addr:   net.JoinHostPort(ip, s.Port),
			Weight: 1,
		})
	}
	return instances, nil
}

// Watch is not meaningful for plain DNS resolution — there is no push
// notification for A-record changes — so it returns a nil channel. Callers
// that need live updates re-run Discover on their own schedule (the
// heartbeat-triggered reconnection path does exactly this).
func (s *DNSSource) Watch(ctx context.Context) <-chan []RelayInstance {
	return nil
}
