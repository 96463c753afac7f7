package reliudp

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Sentinel errors surfaced across the package boundary. Internal-only
// failures (corrupted frames, out-of-window duplicates, datagrams from an
// unknown peer) are never wrapped in these; they are absorbed silently by
// the receive loop per spec.md §7.
var (
	// ErrBindFailed means the local UDP socket could not be opened.
	ErrBindFailed = errors.New("reliudp: bind failed")

	// ErrHandshakeFailed means the three-way handshake did not complete
	// within the first attempt plus max_retries retransmissions.
	ErrHandshakeFailed = errors.New("reliudp: handshake failed")

	// ErrDeliveryFailed means a data segment exhausted its retry budget
	// without being acknowledged.
	ErrDeliveryFailed = errors.New("reliudp: delivery failed")

	// ErrConnectionClosed means an operation was attempted on, or ended up
	// with, a connection that has already reached its terminal state.
	ErrConnectionClosed = errors.New("reliudp: connection closed")

	// ErrProtocolViolation means a peer sent a frame with flags or sequence
	// state irreconcilable with the local state machine.
	ErrProtocolViolation = errors.New("reliudp: protocol violation")
)

// deliveryFailure aggregates one or more per-segment errors with multierror,
// so callers see every stuck segment instead of just the first.
func deliveryFailure(segErrs ...error) error {
	var merr *multierror.Error
	for _, e := range segErrs {
		if e != nil {
			merr = multierror.Append(merr, e)
		}
	}
	if merr == nil {
		return nil
	}
	return errors.Wrap(ErrDeliveryFailed, merr.Error())
}
