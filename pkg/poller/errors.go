package poller

import "errors"

var (
	errNotConnected    = errors.New("not connected to companion device")
	errContactNotFound = errors.New("repeater not found in contacts; may be out of range")
	errAlreadyStarted  = errors.New("poller already started")
)
