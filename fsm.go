package funnyprint

// printerState enumerates the coarse phases a print session moves
// through. Unlike a full event-driven state machine, the session
// protocol (§ print driver) is a single sequential procedure; the
// state is tracked for structured logging, so the logs of a failed
// session show which phase it died in.
type printerState int

const (
	stateIdle printerState = iota
	stateConnecting
	stateHandshaking
	statePrinting
	stateWaitingFinished
	stateCompleted
	stateFailed
)

func (s printerState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateConnecting:
		return "Connecting"
	case stateHandshaking:
		return "Handshaking"
	case statePrinting:
		return "Printing"
	case stateWaitingFinished:
		return "WaitingFinished"
	case stateCompleted:
		return "Completed"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// transition moves the session to state, logging the change. It
// exists as its own step (rather than a bare assignment) so every
// phase change of a BLE session is observable in logs without
// littering the driver with slog calls.
func (s *session) transition(next printerState) {
	if s.state != next {
		s.log.Info("session state transition", "from", s.state, "to", next)
	}
	s.state = next
}
