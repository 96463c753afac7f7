package reliudp

import "github.com/ventosilenzioso/reliudp/pkg/frame"

// inSeg is one buffered out-of-order or in-order-but-undelivered segment.
type inSeg struct {
	payload []byte
	fin     bool
}

// handleInbound processes one inbound DATA/FIN-bearing frame: buffers it if
// in-window and new, drains every contiguous stored segment into the
// delivery queue, and always answers with an ACK (spec.md §4.4.2 — even
// out-of-window duplicates get re-ACKed to unstick a peer whose earlier ACK
// was lost). Must be called with c.mu held.
func (c *Conn) handleInbound(f frame.Frame) {
	seq := f.SeqNum
	if inWindow(seq, c.expectedSeq, c.cfg.WindowSize, c.cfg.SeqSpace) {
		if _, dup := c.reorderBuf[seq]; !dup {
			c.reorderBuf[seq] = inSeg{payload: f.Payload, fin: f.HasFlag(frame.FlagFIN)}
		}
		c.drainReorder()
	}
	c.sendControlAck()
}

// drainReorder advances expectedSeq across every contiguous stored segment,
// appending payloads to the delivery queue and marking EOF when a drained
// segment carried FIN. Must be called with c.mu held.
func (c *Conn) drainReorder() {
	for {
		seg, ok := c.reorderBuf[c.expectedSeq]
		if !ok {
			return
		}
		delete(c.reorderBuf, c.expectedSeq)
		if len(seg.payload) > 0 {
			c.deliverQueue = append(c.deliverQueue, seg.payload)
		}
		c.expectedSeq = seqAdd(c.expectedSeq, 1, c.cfg.SeqSpace)
		if seg.fin {
			c.peerFinSeen = true
			c.eofQueued = true
		}
	}
}

// sendControlAck emits a bare ACK frame carrying the current cumulative
// ack_num. Must be called with c.mu held.
func (c *Conn) sendControlAck() {
	f := frame.New(c.sendNext, c.expectedSeq, frame.FlagACK, nil)
	_ = c.sh.Send(f, c.peer)
}
