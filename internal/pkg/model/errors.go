package model

import "errors"

// ErrUnknownDevice is returned for any device-scoped operation on an id
// that has never been registered.
var ErrUnknownDevice = errors.New("unknown device")
