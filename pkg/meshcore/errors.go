package meshcore

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestTimeout means the repeater did not answer within the
	// request timeout. Distinct from a protocol error: there is no
	// data this round, but nothing is wrong with the session.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrNotConnected means no companion session is established.
	ErrNotConnected = errors.New("not connected to companion device")

	errConnectFailed = errors.New("failed to connect to companion")
	errClientClosed  = errors.New("client closed")
)

// ProtocolError is an explicit error result returned by the companion
// for a request that was delivered and rejected.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Detail)
}
