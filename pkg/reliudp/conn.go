// Package reliudp implements a reliable, ordered, connection-oriented
// byte-stream transport over plain UDP datagrams: a three-way handshake, a
// sliding-window sender with bounded retransmission, and a reorder-buffered
// receiver with cumulative acknowledgement, all sitting on an injectable
// unreliable-channel shim for deterministic test runs.
package reliudp

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
	"github.com/ventosilenzioso/reliudp/pkg/logger"
	"github.com/ventosilenzioso/reliudp/pkg/shim"
)

// Role distinguishes which side of the handshake a Conn played.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// tick bounds how often the read loop wakes up to check retransmission and
// teardown timers, independent of cfg.Timeout so short test timeouts still
// get checked promptly.
const tick = 50 * time.Millisecond

// Conn is one established reliable connection. All mutable state is guarded
// by mu; the read loop goroutine and any caller of Send/Recv/Close
// synchronize through it, per the single-mutex concurrency model.
type Conn struct {
	id   string
	role Role
	cfg  Config
	udp  *net.UDPConn
	sh   *shim.Shim
	peer *net.UDPAddr
	log  *logrus.Entry

	mu    sync.Mutex
	cond  *sync.Cond
	state State

	sendNext uint32
	unacked  map[uint32]*outSeg

	expectedSeq  uint32
	reorderBuf   map[uint32]inSeg
	deliverQueue [][]byte

	localClosing  bool
	localFinAcked bool
	finSeq        uint32
	peerFinSeen   bool
	eofQueued     bool
	eofDelivered  bool

	deliveryErr error // set once, forces every blocked call to wake and fail
	closed      bool

	readDone chan struct{} // closed when the read loop exits
	metrics  *Metrics
}

func newConn(id string, role Role, udp *net.UDPConn, peer *net.UDPAddr, cfg Config, m *Metrics) *Conn {
	c := &Conn{
		id:         id,
		role:       role,
		cfg:        cfg,
		udp:        udp,
		peer:       peer,
		sh:         shim.New(udp, shim.Rates{Loss: cfg.LossRate, Dup: cfg.DupRate, Corrupt: cfg.CorruptRate}, cfg.Seed),
		unacked:    make(map[uint32]*outSeg),
		reorderBuf: make(map[uint32]inSeg),
		readDone:   make(chan struct{}),
		metrics:    m,
	}
	c.cond = sync.NewCond(&c.mu)
	c.log = logger.WithConn(id)
	return c
}

func newConnID() string { return xid.New().String() }

// startReadLoop launches the background goroutine that owns all further
// socket reads for this connection, once the handshake (run synchronously
// by Connect/Accept) has completed.
func (c *Conn) startReadLoop() { go c.readLoop() }

func (c *Conn) readLoop() {
	defer close(c.readDone)
	buf := make([]byte, 2048)
	for {
		c.udp.SetReadDeadline(time.Now().Add(tick))
		n, addr, err := c.udp.ReadFromUDP(buf)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}

		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.onTick()
				done := c.state == StateClosed
				c.mu.Unlock()
				if done {
					return
				}
				continue
			}
			// Non-timeout socket errors mean the connection is no longer usable.
			c.failLocked(errors.Wrap(ErrProtocolViolation, err.Error()))
			c.mu.Unlock()
			return
		}

		if c.peer != nil && !addrEqual(addr, c.peer) {
			c.mu.Unlock() // datagram from an unrecognized peer: drop
			continue
		}

		f, derr := frame.Decode(buf[:n])
		if derr != nil {
			c.mu.Unlock() // corrupted or malformed: drop silently
			continue
		}

		c.onFrame(f)
		done := c.state == StateClosed
		c.mu.Unlock()
		if done {
			return
		}
	}
}

// onFrame dispatches one decoded, peer-verified frame. Must be called with
// c.mu held.
func (c *Conn) onFrame(f frame.Frame) {
	if f.HasFlag(frame.FlagACK) {
		if c.handleAck(f.AckNum) {
			c.checkFinAcked()
			c.cond.Broadcast()
		}
	}
	if f.HasFlag(frame.FlagDATA) || f.HasFlag(frame.FlagFIN) {
		c.handleInbound(f)
		if c.peerFinSeen && c.state == StateEstablished {
			c.state = StateCloseWait
			c.log.Debug("peer FIN received, entering CLOSE_WAIT")
		}
		c.cond.Broadcast()
	}
	c.maybeClose()
}

// onTick runs the retransmission and teardown timers. Must be called with
// c.mu held.
func (c *Conn) onTick() {
	now := time.Now()
	if exhausted := c.emitUnacked(now); len(exhausted) > 0 {
		segErrs := make([]error, len(exhausted))
		for i, seq := range exhausted {
			segErrs[i] = errors.Errorf("segment seq=%d exceeded %d retries", seq, c.cfg.MaxRetries)
		}
		c.failLocked(deliveryFailure(segErrs...))
		return
	}
	c.checkFinAcked()
	c.maybeClose()
}

// checkFinAcked flips localFinAcked once our outstanding FIN segment has
// left the unacked set. Must be called with c.mu held.
func (c *Conn) checkFinAcked() {
	if !c.localClosing || c.localFinAcked {
		return
	}
	if _, stillUnacked := c.unacked[c.finSeq]; !stillUnacked {
		c.localFinAcked = true
		c.cond.Broadcast()
	}
}

func (c *Conn) maybeClose() {
	if c.localClosing && c.localFinAcked && c.peerFinSeen && c.state != StateClosed {
		c.state = StateClosed
		c.log.Debug("both directions closed, connection CLOSED")
		c.cond.Broadcast()
	}
}

func (c *Conn) failLocked(err error) {
	if c.deliveryErr == nil {
		c.deliveryErr = err
		c.log.Errorf("connection forced closed: %v", err)
	}
	c.state = StateClosed
	c.cond.Broadcast()
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// Send reliably delivers data to the peer, blocking until every segment has
// been acknowledged, a retry budget is exhausted (ErrDeliveryFailed, which
// force-closes the connection), or the connection closes out from under the
// call (ErrConnectionClosed).
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !(c.state.established() || c.state == StateCloseWait) || c.localClosing {
		return errors.Wrap(ErrConnectionClosed, "send called outside ESTABLISHED/CLOSE_WAIT")
	}

	seqs := c.queueSend(data, 0)
	c.emitUnacked(time.Now())

	for {
		if c.allAcked(seqs) {
			return nil
		}
		if c.deliveryErr != nil {
			return c.deliveryErr
		}
		if c.closed {
			return ErrConnectionClosed
		}
		c.cond.Wait()
	}
}

func (c *Conn) allAcked(seqs []uint32) bool {
	for _, s := range seqs {
		if _, ok := c.unacked[s]; ok {
			return false
		}
	}
	return true
}

// Recv returns the next in-order payload. EOF is reported via eof=true,
// err=nil rather than a sentinel error, so callers can distinguish a clean
// peer-initiated close from a transport failure.
func (c *Conn) Recv() (payload []byte, eof bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if len(c.deliverQueue) > 0 {
			p := c.deliverQueue[0]
			c.deliverQueue = c.deliverQueue[1:]
			return p, false, nil
		}
		if c.eofQueued && !c.eofDelivered {
			c.eofDelivered = true
			return nil, true, nil
		}
		if c.deliveryErr != nil {
			return nil, false, c.deliveryErr
		}
		if c.closed {
			return nil, false, ErrConnectionClosed
		}
		c.cond.Wait()
	}
}

// Close initiates graceful teardown: idempotent, and blocks until the
// connection reaches CLOSED or a bounded linger timeout (2x timeout)
// elapses, whichever comes first.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.localClosing && c.state != StateClosed {
		seqs := c.queueSend(nil, frame.FlagFIN)
		c.finSeq = seqs[len(seqs)-1]
		c.localClosing = true
		if c.state == StateEstablished {
			c.state = StateFinWait
		}
		c.emitUnacked(time.Now())
	}

	deadline := time.Now().Add(2 * c.cfg.Timeout)
	timer := time.AfterFunc(2*c.cfg.Timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	for c.state != StateClosed && time.Now().Before(deadline) {
		c.cond.Wait()
	}
	timer.Stop()

	if c.state != StateClosed {
		c.log.Debug("linger timeout elapsed without peer teardown ack, forcing CLOSED")
		c.state = StateClosed
	}
	alreadyClosed := c.closed
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	<-c.readDone
	if alreadyClosed {
		return nil
	}
	return c.udp.Close()
}

// SetLossRate updates the shim's simulated loss probability in place.
func (c *Conn) SetLossRate(r float64) { c.mu.Lock(); defer c.mu.Unlock(); c.setRatesLocked(&r, nil, nil) }

// SetDupRate updates the shim's simulated duplication probability in place.
func (c *Conn) SetDupRate(r float64) { c.mu.Lock(); defer c.mu.Unlock(); c.setRatesLocked(nil, &r, nil) }

// SetCorruptRate updates the shim's simulated corruption probability in place.
func (c *Conn) SetCorruptRate(r float64) { c.mu.Lock(); defer c.mu.Unlock(); c.setRatesLocked(nil, nil, &r) }

func (c *Conn) setRatesLocked(loss, dup, corrupt *float64) {
	rates := shim.Rates{Loss: c.cfg.LossRate, Dup: c.cfg.DupRate, Corrupt: c.cfg.CorruptRate}
	if loss != nil {
		rates.Loss = *loss
		c.cfg.LossRate = *loss
	}
	if dup != nil {
		rates.Dup = *dup
		c.cfg.DupRate = *dup
	}
	if corrupt != nil {
		rates.Corrupt = *corrupt
		c.cfg.CorruptRate = *corrupt
	}
	c.sh.SetRates(rates)
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the connection's diagnostic identifier.
func (c *Conn) ID() string { return c.id }
