package reliudp

import (
	"math/rand"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
	"github.com/ventosilenzioso/reliudp/pkg/logger"
	"github.com/ventosilenzioso/reliudp/pkg/shim"
)

// handshakeTimeoutFactor scales Config.Timeout up for handshake frames, per
// spec.md §4.3's "~1s for data, ~3s for handshake" guidance.
const handshakeTimeoutFactor = 1.5

// Endpoint owns one bound UDP socket. It produces at most one Conn: either
// the single outbound Connect or the single inbound Accept, never both
// (multiplexing many connections on one endpoint is out of scope).
type Endpoint struct {
	udp     *net.UDPConn
	cfg     Config
	metrics *Metrics
}

// EndpointOption configures optional Endpoint behavior.
type EndpointOption func(*Endpoint)

// WithMetrics attaches a Prometheus collector that tracks connections
// produced by this endpoint.
func WithMetrics(m *Metrics) EndpointOption {
	return func(e *Endpoint) { e.metrics = m }
}

// Bind opens the local UDP socket at addr. Failure is reported as
// ErrBindFailed.
func Bind(addr string, cfg Config, opts ...EndpointOption) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(ErrBindFailed, err.Error())
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(ErrBindFailed, err.Error())
	}
	e := &Endpoint{udp: conn, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	logger.WithConn("-").Debugf("bound %s", conn.LocalAddr())
	return e, nil
}

// Close releases the endpoint's socket. Closing an Endpoint after a Conn has
// been produced from it is a caller error: the Conn owns the socket from
// that point on and closes it itself.
func (e *Endpoint) Close() error { return e.udp.Close() }

func (e *Endpoint) handshakeTimeout() time.Duration {
	return time.Duration(float64(e.cfg.Timeout) * handshakeTimeoutFactor)
}

func (e *Endpoint) handshakeShim() *shim.Shim {
	return shim.New(e.udp, shim.Rates{Loss: e.cfg.LossRate, Dup: e.cfg.DupRate, Corrupt: e.cfg.CorruptRate}, e.cfg.Seed)
}

func randomISS(cfg Config) uint32 {
	rng := rand.New(rand.NewSource(cfg.Seed))
	return uint32(rng.Int63n(int64(cfg.SeqSpace)))
}

// Connect runs the initiator side of the handshake against peer, blocking
// until ESTABLISHED or ErrHandshakeFailed once the SYN has been sent
// max_retries+1 times (the first send plus max_retries retransmissions).
func (e *Endpoint) Connect(peer string) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
	}

	sh := e.handshakeShim()
	iss := randomISS(e.cfg)
	syn := frame.New(iss, 0, frame.FlagSYN, nil)

	buf := make([]byte, 2048)
	timeout := e.handshakeTimeout()

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := sh.Send(syn, addr); err != nil {
			return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
		}

		e.udp.SetReadDeadline(time.Now().Add(timeout))
		n, from, rerr := e.udp.ReadFromUDP(buf)
		if rerr != nil {
			continue
		}
		if !addrEqual(from, addr) {
			continue
		}
		f, derr := frame.Decode(buf[:n])
		if derr != nil {
			continue
		}
		wantAck := seqAdd(iss, 1, e.cfg.SeqSpace)
		if !f.HasFlag(frame.FlagSYN) || !f.HasFlag(frame.FlagACK) || f.AckNum != wantAck {
			continue
		}

		recvNext := seqAdd(f.SeqNum, 1, e.cfg.SeqSpace)
		finalAck := frame.New(wantAck, recvNext, frame.FlagACK, nil)
		if err := sh.Send(finalAck, addr); err != nil {
			return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
		}

		c := newConn(newConnID(), RoleInitiator, e.udp, addr, e.cfg, e.metrics)
		c.sendNext = wantAck
		c.expectedSeq = recvNext
		c.state = StateEstablished
		c.startReadLoop()
		if e.metrics != nil {
			e.metrics.addConn(c)
		}
		c.log.Debug("handshake complete (initiator)")
		return c, nil
	}
	return nil, errors.Wrap(ErrHandshakeFailed, "retries exhausted awaiting SYN|ACK")
}

// Accept runs the responder side of the handshake: waits for a SYN from any
// peer (up to max_retries+1 handshake timeouts), then completes the
// three-way exchange with that peer specifically.
func (e *Endpoint) Accept() (*Conn, error) {
	buf := make([]byte, 2048)
	timeout := e.handshakeTimeout()

	var peer *net.UDPAddr
	var x uint32
	timeouts := 0
	for {
		e.udp.SetReadDeadline(time.Now().Add(timeout))
		n, from, err := e.udp.ReadFromUDP(buf)
		if err != nil {
			timeouts++
			if timeouts > e.cfg.MaxRetries {
				return nil, errors.Wrap(ErrHandshakeFailed, "timed out awaiting SYN")
			}
			continue
		}
		f, derr := frame.Decode(buf[:n])
		if derr != nil {
			continue
		}
		if f.HasFlag(frame.FlagSYN) && !f.HasFlag(frame.FlagACK) {
			peer, x = from, f.SeqNum
			break
		}
	}

	sh := e.handshakeShim()
	iss := randomISS(e.cfg)
	recvNext := seqAdd(x, 1, e.cfg.SeqSpace)
	synAck := frame.New(iss, recvNext, frame.FlagSYN|frame.FlagACK, nil)

	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := sh.Send(synAck, peer); err != nil {
			return nil, errors.Wrap(ErrHandshakeFailed, err.Error())
		}

		e.udp.SetReadDeadline(time.Now().Add(timeout))
		n, from, rerr := e.udp.ReadFromUDP(buf)
		if rerr != nil {
			continue
		}
		if !addrEqual(from, peer) {
			continue
		}
		f, derr := frame.Decode(buf[:n])
		if derr != nil {
			continue
		}
		wantAck := seqAdd(iss, 1, e.cfg.SeqSpace)
		if !f.HasFlag(frame.FlagACK) || f.AckNum != wantAck {
			continue
		}

		c := newConn(newConnID(), RoleResponder, e.udp, peer, e.cfg, e.metrics)
		c.sendNext = wantAck
		c.expectedSeq = recvNext
		c.state = StateEstablished
		c.startReadLoop()
		if e.metrics != nil {
			e.metrics.addConn(c)
		}
		c.log.Debug("handshake complete (responder)")
		return c, nil
	}
	return nil, errors.Wrap(ErrHandshakeFailed, "retries exhausted awaiting final ACK")
}
