package reliudp

import "testing"

func TestStateStringCoversAllValues(t *testing.T) {
	names := map[State]string{
		StateClosed:      "CLOSED",
		StateListen:      "LISTEN",
		StateSynSent:     "SYN_SENT",
		StateSynReceived: "SYN_RECEIVED",
		StateEstablished: "ESTABLISHED",
		StateFinWait:     "FIN_WAIT",
		StateCloseWait:   "CLOSE_WAIT",
	}
	for state, want := range names {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String()=%q want %q", state, got, want)
		}
	}
}

func TestEstablishedAndTerminalPredicates(t *testing.T) {
	if !StateEstablished.established() {
		t.Error("ESTABLISHED should report established() true")
	}
	if StateClosed.established() {
		t.Error("CLOSED should not report established() true")
	}
	if !StateClosed.terminal() {
		t.Error("CLOSED should report terminal() true")
	}
	if StateEstablished.terminal() {
		t.Error("ESTABLISHED should not report terminal() true")
	}
}
