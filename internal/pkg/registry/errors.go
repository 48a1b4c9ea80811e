package registry

import "errors"

// ErrNoOnlineDevice is returned when an owner has no device currently
// within its heartbeat window.
var ErrNoOnlineDevice = errors.New("owner has no online device")
