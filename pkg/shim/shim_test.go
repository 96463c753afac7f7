package shim

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
)

type fakeSocket struct {
	writes [][]byte
}

func (f *fakeSocket) WriteTo(b []byte, _ net.Addr) (int, error) {
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	return len(b), nil
}

var dst = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

func TestSendNoInjectionEmitsOnce(t *testing.T) {
	sock := &fakeSocket{}
	sh := New(sock, Rates{}, 1)

	f := frame.New(1, 0, frame.FlagDATA, []byte("x"))
	require.NoError(t, sh.Send(f, dst))

	require.Len(t, sock.writes, 1)
	require.EqualValues(t, 1, sh.Stats().Emitted)
}

func TestSendAlwaysLossDropsSilently(t *testing.T) {
	sock := &fakeSocket{}
	sh := New(sock, Rates{Loss: 1.0}, 1)

	f := frame.New(1, 0, frame.FlagDATA, []byte("x"))
	require.NoError(t, sh.Send(f, dst))

	require.Empty(t, sock.writes)
	require.EqualValues(t, 1, sh.Stats().Dropped)
	require.EqualValues(t, 0, sh.Stats().Emitted)
}

func TestSendAlwaysDupEmitsTwice(t *testing.T) {
	sock := &fakeSocket{}
	sh := New(sock, Rates{Dup: 1.0}, 1)

	f := frame.New(1, 0, frame.FlagDATA, []byte("x"))
	require.NoError(t, sh.Send(f, dst))

	require.Len(t, sock.writes, 2)
	require.Equal(t, sock.writes[0], sock.writes[1])
}

func TestSendAlwaysCorruptFailsPeerDecode(t *testing.T) {
	sock := &fakeSocket{}
	sh := New(sock, Rates{Corrupt: 1.0}, 1)

	f := frame.New(1, 0, frame.FlagDATA, []byte("x"))
	require.NoError(t, sh.Send(f, dst))

	require.Len(t, sock.writes, 1)
	_, err := frame.Decode(sock.writes[0])
	require.ErrorIs(t, err, frame.ErrCorrupted)
}

func TestSetRatesUpdatesInPlace(t *testing.T) {
	sock := &fakeSocket{}
	sh := New(sock, Rates{}, 1)
	sh.SetRates(Rates{Loss: 1.0})

	f := frame.New(1, 0, frame.FlagDATA, []byte("x"))
	require.NoError(t, sh.Send(f, dst))
	require.Empty(t, sock.writes)
}
