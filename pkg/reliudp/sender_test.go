package reliudp

import (
	"testing"

	"github.com/ventosilenzioso/reliudp/pkg/frame"
)

func TestSegmentPayloadSplitsAtPayloadMax(t *testing.T) {
	data := make([]byte, 2*frame.PayloadMax+5)
	for i := range data {
		data[i] = 'X'
	}
	chunks := segmentPayload(data)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0]) != frame.PayloadMax || len(chunks[1]) != frame.PayloadMax || len(chunks[2]) != 5 {
		t.Fatalf("unexpected chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestSegmentPayloadEmptyYieldsOneChunk(t *testing.T) {
	chunks := segmentPayload(nil)
	if len(chunks) != 1 || len(chunks[0]) != 0 {
		t.Fatalf("expected one empty chunk, got %v", chunks)
	}
}

func TestQueueSendAllocatesSequentialSeqs(t *testing.T) {
	c := newTestConn(t)
	c.sendNext = 10
	seqs := c.queueSend([]byte("hello world"), 0)
	if len(seqs) != 1 || seqs[0] != 10 {
		t.Fatalf("got seqs %v", seqs)
	}
	if c.sendNext != 11 {
		t.Fatalf("sendNext=%d, want 11", c.sendNext)
	}
	if _, ok := c.unacked[10]; !ok {
		t.Fatal("expected segment 10 queued in unacked")
	}
}

func TestHandleAckRemovesCoveredSegments(t *testing.T) {
	c := newTestConn(t)
	c.cfg.WindowSize = 5
	c.cfg.SeqSpace = 256
	c.unacked[1] = &outSeg{}
	c.unacked[2] = &outSeg{}
	c.unacked[3] = &outSeg{}

	changed := c.handleAck(3)
	if !changed {
		t.Fatal("expected handleAck to report a change")
	}
	if _, ok := c.unacked[1]; ok {
		t.Error("seq 1 should have been acked")
	}
	if _, ok := c.unacked[2]; ok {
		t.Error("seq 2 should have been acked")
	}
	if _, ok := c.unacked[3]; !ok {
		t.Error("seq 3 should still be outstanding (ack_num is exclusive)")
	}
}

// newTestConn builds a minimally-wired Conn for unit tests that exercise
// sender/receiver bookkeeping without a real socket.
func newTestConn(t *testing.T) *Conn {
	t.Helper()
	cfg := NewConfig(WithSeed(1))
	c := &Conn{
		cfg:        cfg,
		unacked:    make(map[uint32]*outSeg),
		reorderBuf: make(map[uint32]inSeg),
	}
	return c
}
