package reliudp

import (
	"time"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
)

// outSeg is one sliding-window sender slot: the frame as last transmitted,
// plus the bookkeeping the retransmission timer needs.
type outSeg struct {
	f       frame.Frame
	firstTx time.Time
	lastTx  time.Time
	retries int
}

// segmentPayload splits data into chunks no larger than frame.PayloadMax,
// preserving order. A nil/empty data yields a single empty chunk so a bare
// control segment (e.g. FIN-only) still gets queued.
func segmentPayload(data []byte) [][]byte {
	if len(data) == 0 {
		return [][]byte{nil}
	}
	var out [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > frame.PayloadMax {
			n = frame.PayloadMax
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// queueSend segments data and appends one unacked entry per segment, the
// last one carrying extraFlags (used to attach FIN to the final segment of
// a close()). Must be called with c.mu held. Returns the allocated seqs in
// order.
func (c *Conn) queueSend(data []byte, extraFlags uint8) []uint32 {
	chunks := segmentPayload(data)
	seqs := make([]uint32, 0, len(chunks))
	for i, chunk := range chunks {
		flags := frame.FlagDATA
		if len(chunk) == 0 {
			flags = 0 // a bare control segment (e.g. lone FIN) carries no DATA bit
		}
		if i == len(chunks)-1 {
			flags |= extraFlags
		}
		seq := c.sendNext
		f := c.buildFrame(seq, flags, chunk)
		c.unacked[seq] = &outSeg{f: f}
		c.sendNext = seqAdd(c.sendNext, 1, c.cfg.SeqSpace)
		seqs = append(seqs, seq)
	}
	return seqs
}

// buildFrame constructs a frame for transmission, piggy-backing the current
// cumulative ack (ACK is always set once the handshake has assigned
// expectedSeq, i.e. from SYN_RECEIVED/ESTABLISHED onward).
func (c *Conn) buildFrame(seq uint32, flags uint8, payload []byte) frame.Frame {
	return frame.New(seq, c.expectedSeq, flags|frame.FlagACK, payload)
}

// emitUnacked transmits every unacked segment whose retransmission timer has
// elapsed (or which has never been sent), bumping its retry count. It
// returns the set of segments that have now exceeded max_retries — the
// caller must treat this as a fatal DeliveryFailed and force-close.
// Must be called with c.mu held.
func (c *Conn) emitUnacked(now time.Time) []uint32 {
	var exhausted []uint32
	for seq, seg := range c.unacked {
		if !seg.lastTx.IsZero() && now.Sub(seg.lastTx) < c.cfg.Timeout {
			continue
		}
		if seg.retries >= c.cfg.MaxRetries {
			exhausted = append(exhausted, seq)
			continue
		}
		seg.f = c.refreshAck(seg.f)
		_ = c.sh.Send(seg.f, c.peer)
		if seg.firstTx.IsZero() {
			seg.firstTx = now
		}
		seg.retries++
		seg.lastTx = now
	}
	return exhausted
}

// refreshAck rebuilds f with the current cumulative ack number, so a
// retransmitted segment doesn't carry a stale ack that regresses the peer's
// view of what we've received.
func (c *Conn) refreshAck(f frame.Frame) frame.Frame {
	return frame.New(f.SeqNum, c.expectedSeq, f.Flags, f.Payload)
}

// handleAck removes every unacked segment covered by a cumulative ackNum and
// reports whether anything changed. Must be called with c.mu held.
func (c *Conn) handleAck(ackNum uint32) bool {
	changed := false
	for seq := range c.unacked {
		if ackCovers(ackNum, seq, c.cfg.WindowSize, c.cfg.SeqSpace) {
			delete(c.unacked, seq)
			changed = true
		}
	}
	return changed
}
