package cometa

import (
	"context"
	"fmt"

	"cometa/ensemble"
	"cometa/framer"
	"cometa/handshake"
	"cometa/middleware"
	"cometa/session"
)

// Reply is the small closed set of outcomes every blocking API call
// reduces to. It is an alias over session.Code so the session package —
// which needs the same classification to drive reconnection decisions —
// doesn't have to import this package.
type Reply = session.Code

// Reply values, matching cometa_reply's enumerators.
const (
	OK         = session.OK
	Timeout    = session.Timeout
	NetError   = session.NetError
	HTTPError  = session.HTTPError
	AuthError  = session.AuthError
	ParamError = session.ParamError
	Error      = session.Error
)

// Callback is the user handler bound to a subscribed device. It runs on
// the session's receive-loop goroutine with no lock held; it must return
// promptly, since no further frames are read while it runs, and must not
// call back into the library (Send included) on the same handle.
type Callback = session.Callback

// MessageLen is the session buffer size; MaxSendSize is the largest
// payload Send accepts, leaving room for the frame envelope.
const (
	MessageLen  = framer.MaxPayload
	MaxSendSize = MessageLen - 12
)

// Handle is the opaque connection handle returned by Subscribe: it's the
// device's one live connection to the relay. A Handle is always non-nil —
// even a failed Subscribe returns one so LastError(handle) is always
// meaningful.
type Handle struct {
	sess      *session.Session
	deviceID  string
	sendChain middleware.HandlerFunc
	failCode  Reply
}

func failedHandle(code Reply) *Handle {
	return &Handle{failCode: code}
}

// Subscribe runs the three-step handshake against the lowest-latency
// ensemble member, starts the heartbeat and receive loops, and returns
// the session handle. appServerName, appServerPort, and
// authEndpoint must all be supplied (two-way authenticated mode) or all
// be empty (one-way mode) — partial presence is a parameter error.
//
// Init must have succeeded before calling Subscribe.
func Subscribe(appName, appKey, appServerName, appServerPort, authEndpoint string, opts ...Option) (*Handle, error) {
	id, ok := currentIdentity()
	if !ok {
		return failedHandle(ParamError), fmt.Errorf("cometa: Init must succeed before Subscribe")
	}
	if appName == "" || appKey == "" {
		return failedHandle(ParamError), fmt.Errorf("cometa: app_name and app_key are required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	hsCfg := handshake.Config{
		DeviceID:  id.DeviceID,
		DeviceKey: id.DeviceKey,
		Platform:  id.Platform,

		AppName: appName,
		AppKey:  appKey,

		AppServerName: appServerName,
		AppServerPort: appServerPort,
		AuthEndpoint:  authEndpoint,

		UseTLS:      cfg.useTLS,
		CABundle:    cfg.caBundle,
		VerifyHost:  cfg.verifyHost,
		DialTimeout: cfg.dialTimeout,
	}

	source := cfg.source
	if source == nil {
		source = ensemble.NewDNSSource(cfg.relayHost, cfg.resolvedRelayPort())
	}
	selector := cfg.selector
	if selector == nil {
		selector = &ensemble.LatencyRaceSelector{Timeout: cfg.dialTimeout}
	}

	connector := session.Connector{Source: source, Selector: selector, Handshake: hsCfg}
	sessOpts := []session.Option{session.WithMiddleware(cfg.dispatchMiddlewares...)}
	if cfg.heartbeatPeriod > 0 {
		sessOpts = append(sessOpts, session.WithHeartbeatPeriod(cfg.heartbeatPeriod))
	}
	sess := session.New(connector, id.DeviceID, sessOpts...)

	if err := sess.Open(context.Background()); err != nil {
		return failedHandle(sess.LastError()), err
	}

	h := &Handle{sess: sess, deviceID: id.DeviceID}
	h.sendChain = middleware.Chain(cfg.sendMiddlewares...)(h.sendTerminal())
	return h, nil
}

// sendTerminal is the innermost handler the send-side middleware chain
// (WithSendRateLimit and friends) wraps: it performs the actual framed
// write through the session.
func (h *Handle) sendTerminal() middleware.HandlerFunc {
	return func(ctx context.Context, req *middleware.DispatchContext) *middleware.DispatchResult {
		if err := h.sess.Send(req.Payload); err != nil {
			return &middleware.DispatchResult{Err: err}
		}
		return &middleware.DispatchResult{}
	}
}

// BindCallback stores cb on handle. The swap is mutex-guarded, so it may
// race a running dispatch safely; a message dispatched before the swap
// goes to the previous callback, or, with none bound, is answered with an
// empty-body response.
func BindCallback(handle *Handle, cb Callback) Reply {
	if handle == nil || handle.sess == nil {
		return ParamError
	}
	handle.sess.BindCallback(cb)
	return OK
}

// Send validates size, then writes buf as an upstream-marked chunk.
// Returns ParamError for an oversized payload,
// NetError for a write failure (the heartbeat loop will reconnect on its
// own schedule) or for a message dropped by WithSendRateLimit, OK
// otherwise.
func Send(handle *Handle, buf []byte) Reply {
	if handle == nil || handle.sess == nil {
		return ParamError
	}
	if len(buf) > MaxSendSize {
		return ParamError
	}

	result := handle.sendChain(context.Background(), &middleware.DispatchContext{
		DeviceID: handle.deviceID,
		Payload:  buf,
	})
	if result != nil && result.Err != nil {
		return NetError
	}
	return OK
}

// LastError returns handle's last reply code.
func LastError(handle *Handle) Reply {
	if handle == nil {
		return Error
	}
	if handle.sess == nil {
		return handle.failCode
	}
	return handle.sess.LastError()
}

// Close cancels the receive loop, stops the heartbeat loop, and closes
// the transport. Safe to call more than once, and on a handle from a
// failed Subscribe.
func Close(handle *Handle) error {
	if handle == nil || handle.sess == nil {
		return nil
	}
	return handle.sess.Close()
}
