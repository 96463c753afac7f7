package reliudp

// State is one node of the connection state machine from spec.md §4.3.
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait
	StateCloseWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	case StateCloseWait:
		return "CLOSE_WAIT"
	default:
		return "UNKNOWN"
	}
}

// established reports whether data may be sent or received in this state.
func (s State) established() bool { return s == StateEstablished }

// terminal reports whether the connection has nothing left to do.
func (s State) terminal() bool { return s == StateClosed }
