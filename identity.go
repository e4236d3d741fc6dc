// Package cometa is the device-side client library: it maintains one
// persistent, authenticated connection from a device to a relay ensemble
// and exchanges callback-driven messages with an application backend over
// it. The public surface is deliberately small: Init, Subscribe,
// BindCallback, Send, LastError, Close.
package cometa

import (
	"sync"

	"cometa/transport"
)

// Length caps on the device identity fields. The relay enforces the same
// limits on its side of the subscribe request.
const (
	MaxDeviceIDLen  = 32
	MaxDeviceKeyLen = 32
	MaxPlatformLen  = 64
)

// Identity is the process-wide device identity set by Init: the device id
// and key used on every subscribe handshake, plus the optional platform
// string. It survives reconnection simply by being process-wide state
// rather than anything a Session owns.
type Identity struct {
	DeviceID  string
	DeviceKey string
	Platform  string
}

var (
	identityMu sync.RWMutex
	identity   *Identity
)

// Init validates and stores the device identity as process-wide state,
// and installs the broken-pipe policy. The argument order is (device id,
// device key, platform); platform may be empty.
//
// Init may be called more than once; each successful call replaces the
// process-wide identity for any Subscribe that follows.
func Init(deviceID, deviceKey, platform string) Reply {
	if deviceID == "" || deviceKey == "" {
		return ParamError
	}
	if len(deviceID) > MaxDeviceIDLen || len(deviceKey) > MaxDeviceKeyLen || len(platform) > MaxPlatformLen {
		return ParamError
	}

	transport.IgnoreBrokenPipe()

	identityMu.Lock()
	identity = &Identity{DeviceID: deviceID, DeviceKey: deviceKey, Platform: platform}
	identityMu.Unlock()
	return OK
}

// currentIdentity returns the process-wide identity set by the most
// recent successful Init call, or ok=false if Init has never succeeded.
func currentIdentity() (id Identity, ok bool) {
	identityMu.RLock()
	defer identityMu.RUnlock()
	if identity == nil {
		return Identity{}, false
	}
	return *identity, true
}
