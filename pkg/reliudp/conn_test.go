package reliudp

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// dial brings up a responder Endpoint listening on an ephemeral port and an
// initiator Endpoint connected to it, both sharing cfg, and returns the two
// established connections.
func dial(t *testing.T, cfg Config) (client, server *Conn) {
	t.Helper()

	srvEp, err := Bind("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srvEp.Close() })

	cliEp, err := Bind("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { cliEp.Close() })

	var srvConn *Conn
	var srvErr error
	done := make(chan struct{})
	go func() {
		srvConn, srvErr = srvEp.Accept()
		close(done)
	}()

	cliConn, err := cliEp.Connect(srvEp.udp.LocalAddr().String())
	require.NoError(t, err)

	<-done
	require.NoError(t, srvErr)

	return cliConn, srvConn
}

func TestHandshakeOnlyBothReachEstablished(t *testing.T) {
	cfg := NewConfig(WithSeed(1), WithTimeout(200*time.Millisecond), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)

	require.Equal(t, StateEstablished, client.State())
	require.Equal(t, StateEstablished, server.State())

	require.NoError(t, client.Close())
	require.NoError(t, server.Close())
}

func TestSmallMessageDeliveredExactly(t *testing.T) {
	cfg := NewConfig(WithSeed(2), WithTimeout(200*time.Millisecond), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer client.Close()
	defer server.Close()

	payload := []byte("Hello, Server!")
	require.NoError(t, client.Send(payload))

	got, eof, err := server.Recv()
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, payload, got)
}

func TestLargeMessagePreservesOrderAndContent(t *testing.T) {
	cfg := NewConfig(WithSeed(3), WithTimeout(300*time.Millisecond), WithSeqSpace(1<<32), WithWindowSize(8))
	client, server := dial(t, cfg)
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{0x58}, 10240)
	sendDone := make(chan error, 1)
	go func() { sendDone <- client.Send(payload) }()

	var received []byte
	for len(received) < len(payload) {
		chunk, eof, err := server.Recv()
		require.NoError(t, err)
		require.False(t, eof)
		received = append(received, chunk...)
	}
	require.NoError(t, <-sendDone)
	require.Equal(t, payload, received)
}

func TestLossyChannelEventuallyDelivers(t *testing.T) {
	cfg := NewConfig(WithSeed(4), WithTimeout(100*time.Millisecond), WithMaxRetries(50),
		WithSeqSpace(1<<32), WithWindowSize(8), WithLossRate(0.3))
	client, server := dial(t, cfg)
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte{'X'}, 2009)
	sendDone := make(chan error, 1)
	go func() { sendDone <- client.Send(payload) }()

	var received []byte
	for len(received) < len(payload) {
		chunk, eof, err := server.Recv()
		require.NoError(t, err)
		require.False(t, eof)
		received = append(received, chunk...)
	}
	require.NoError(t, <-sendDone)
	require.Equal(t, payload, received)
}

func TestCorruptionRejectionNeverDeliversBadBytes(t *testing.T) {
	cfg := NewConfig(WithSeed(5), WithTimeout(100*time.Millisecond), WithMaxRetries(50),
		WithSeqSpace(1<<32), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer client.Close()
	defer server.Close()

	client.SetCorruptRate(0.8)

	payload := []byte("GET /index.html HTTP/1.0\r\n\r\n")
	sendDone := make(chan error, 1)
	go func() { sendDone <- client.Send(payload) }()

	got, eof, err := server.Recv()
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, payload, got)
	require.NoError(t, <-sendDone)
}

func TestRetryExhaustionFailsDeliveryAndCloses(t *testing.T) {
	cfg := NewConfig(WithSeed(6), WithTimeout(20*time.Millisecond), WithMaxRetries(3), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer server.Close()
	defer client.udp.Close()

	client.SetLossRate(1.0)

	err := client.Send([]byte("never arrives"))
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.Equal(t, StateClosed, client.State())
}

func TestIdempotentClose(t *testing.T) {
	cfg := NewConfig(WithSeed(7), WithTimeout(100*time.Millisecond), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer server.Close()

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	require.Equal(t, StateClosed, client.State())
}

func TestSendAllowedInCloseWaitAfterPeerCloses(t *testing.T) {
	cfg := NewConfig(WithSeed(9), WithTimeout(100*time.Millisecond), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer client.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, client.Close())
	}()

	_, eof, err := server.Recv()
	require.NoError(t, err)
	require.True(t, eof)
	require.Equal(t, StateCloseWait, server.State())

	reply := []byte("still here")
	require.NoError(t, server.Send(reply))

	got, eof, err := client.Recv()
	require.NoError(t, err)
	require.False(t, eof)
	require.Equal(t, reply, got)

	require.NoError(t, server.Close())
	wg.Wait()
}

func TestCloseConvergesToClosedAfterLingerTimeoutWithoutPeerAck(t *testing.T) {
	cfg := NewConfig(WithSeed(10), WithTimeout(20*time.Millisecond), WithMaxRetries(1000), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)
	defer server.Close()
	defer client.udp.Close()

	client.SetLossRate(1.0)

	require.NoError(t, client.Close())
	require.Equal(t, StateClosed, client.State())

	require.NoError(t, client.Close())
	require.Equal(t, StateClosed, client.State())
}

func TestGracefulTeardownDeliversEOF(t *testing.T) {
	cfg := NewConfig(WithSeed(8), WithTimeout(100*time.Millisecond), WithSeqSpace(256), WithWindowSize(5))
	client, server := dial(t, cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		require.NoError(t, client.Close())
	}()

	_, eof, err := server.Recv()
	require.NoError(t, err)
	require.True(t, eof)

	require.NoError(t, server.Close())
	wg.Wait()
}
