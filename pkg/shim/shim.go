// Package shim implements the unreliable-channel layer that sits between
// the reliable transport engine and a real UDP socket: every frame emitted
// by upper layers passes through here so loss, duplication, and corruption
// can be injected deterministically for tests (and left at zero in
// production).
package shim

import (
	"math/rand"
	"net"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
)

// Rates bundles the three injectable probabilities, each in [0, 1].
type Rates struct {
	Loss    float64
	Dup     float64
	Corrupt float64
}

// Socket is the minimal send surface the shim wraps. *net.UDPConn satisfies
// it; tests substitute in-memory fakes that record or discard writes.
type Socket interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Stats counts what the shim has done to outgoing frames, for diagnostics.
// The Shim does no locking of its own: callers serialize every Send,
// SetRates and Stats call (a reliudp.Conn makes them only while holding its
// connection mutex).
type Stats struct {
	Emitted    uint64
	Dropped    uint64
	Duplicated uint64
	Corrupted  uint64
}

// Shim wraps a Socket with loss/dup/corruption injection driven by a
// per-instance seeded RNG, so test runs are reproducible and independent
// connections never share entropy (REDESIGN FLAGS: no global RNG).
type Shim struct {
	sock  Socket
	rates Rates
	rng   *rand.Rand
	stats Stats
}

// New wraps sock with the given rates and seed.
func New(sock Socket, rates Rates, seed int64) *Shim {
	return &Shim{
		sock:  sock,
		rates: rates,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// SetRates updates the injection probabilities in place (test hooks
// set_loss_rate/set_dup_rate/set_corrupt_rate from spec.md §6).
func (s *Shim) SetRates(r Rates) { s.rates = r }

// Send encodes f and writes it to addr through the unreliable path:
// dropped with probability Loss, corrupted with probability Corrupt,
// duplicated (emitted twice back to back) with probability Dup.
func (s *Shim) Send(f frame.Frame, addr net.Addr) error {
	if s.rng.Float64() < s.rates.Loss {
		s.stats.Dropped++
		return nil
	}

	corrupt := s.rng.Float64() < s.rates.Corrupt
	if corrupt {
		s.stats.Corrupted++
	}
	wire := frame.Encode(f, corrupt)

	if _, err := s.sock.WriteTo(wire, addr); err != nil {
		return err
	}
	s.stats.Emitted++

	if s.rng.Float64() < s.rates.Dup {
		if _, err := s.sock.WriteTo(wire, addr); err != nil {
			return err
		}
		s.stats.Duplicated++
	}
	return nil
}

// Stats returns a snapshot of the shim's emit-side counters.
func (s *Shim) Stats() Stats { return s.stats }
