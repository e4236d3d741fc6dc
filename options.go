package cometa

import (
	"time"

	"cometa/ensemble"
	"cometa/middleware"
)

// config collects every Subscribe-time knob: the connection constants a
// deployment would otherwise hardcode (relay host, TLS, dial timeout),
// plus pluggable ensemble source/selector, dispatch middleware, and
// send-side rate limiting.
type config struct {
	useTLS          bool
	caBundle        string
	verifyHost      string
	dialTimeout     time.Duration
	heartbeatPeriod time.Duration

	relayHost string
	relayPort string

	source   ensemble.Source
	selector ensemble.Selector

	dispatchMiddlewares []middleware.Middleware
	sendMiddlewares     []middleware.Middleware
}

func defaultConfig() config {
	return config{
		useTLS:      true,
		dialTimeout: 10 * time.Second,
	}
}

// resolvedRelayPort is the port DNSSource resolves against: whatever
// WithRelayHost explicitly set, or the TLS/plain default (443 for TLS, 80
// for plain TCP) otherwise.
func (c config) resolvedRelayPort() string {
	if c.relayPort != "" {
		return c.relayPort
	}
	if c.useTLS {
		return "443"
	}
	return "80"
}

// Option configures a Subscribe call.
type Option func(*config)

// WithTLS overrides whether the relay connection uses TLS. Defaults to
// true (port 443). Plain TCP (false) is for the legacy 7007/80 ports or
// for testing against a mock relay.
func WithTLS(useTLS bool) Option {
	return func(c *config) { c.useTLS = useTLS }
}

// WithVerificationHost overrides the fixed hostname the relay's
// certificate identity is checked against
// (transport.VerificationHost). Ensemble members are dialed by raced IP,
// so the check never uses the dialed address either way; overriding the
// logical name is for private relay fleets with their own certificates
// and for tests.
func WithVerificationHost(host string) Option {
	return func(c *config) { c.verifyHost = host }
}

// WithCABundle names a PEM file added to the system trust store for TLS
// verification (rootcert.pem in the working directory by convention; any
// path is accepted here).
func WithCABundle(path string) Option {
	return func(c *config) { c.caBundle = path }
}

// WithDialTimeout bounds every connect this Subscribe call and its future
// reconnections perform: the ensemble probes, the relay connection, and
// the app-server challenge relay.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) { c.dialTimeout = d }
}

// WithRelayHost overrides the ensemble DNS name and port DNSSource
// resolves, in place of the default ensemble.cometa.io. Useful for
// pointing a device at a private relay fleet, or a mock relay in tests.
func WithRelayHost(host, port string) Option {
	return func(c *config) {
		c.relayHost = host
		c.relayPort = port
	}
}

// WithSource overrides ensemble candidate discovery entirely — for
// example, ensemble.NewEtcdSource for a private relay fleet that
// advertises its members through etcd rather than DNS. Takes precedence
// over WithRelayHost.
func WithSource(source ensemble.Source) Option {
	return func(c *config) { c.source = source }
}

// WithSelector overrides the ensemble selection strategy. Defaults to
// ensemble.LatencyRaceSelector, the required parallel-probe race.
func WithSelector(selector ensemble.Selector) Option {
	return func(c *config) { c.selector = selector }
}

// WithHeartbeatPeriod pins the heartbeat period, overriding whatever the
// relay negotiates on each handshake. Useful for tests and for
// deployments whose relay advertises a period the device's power budget
// can't honor.
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(c *config) { c.heartbeatPeriod = d }
}

// WithDispatchMiddleware wraps every inbound message dispatched to the
// bound callback with the given middleware chain (logging, timeout-warn,
// and so on), outermost first.
func WithDispatchMiddleware(mw ...middleware.Middleware) Option {
	return func(c *config) { c.dispatchMiddlewares = append(c.dispatchMiddlewares, mw...) }
}

// WithSendRateLimit caps the rate at which Send accepts upstream
// messages, using a token-bucket limiter (r messages/second, burst
// capacity burst) — a domain-stack addition so a misbehaving firmware
// caller can't flood the relay (see DESIGN.md, golang.org/x/time/rate).
func WithSendRateLimit(r float64, burst int) Option {
	return func(c *config) {
		c.sendMiddlewares = append(c.sendMiddlewares, middleware.RateLimitMiddleware(r, burst))
	}
}
