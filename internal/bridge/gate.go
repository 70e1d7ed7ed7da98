package bridge

import "simuser.ai/internal/protocol"

type Decision int

const (
	// Advance exchanges state with the driver this tick.
	Advance Decision = iota
	// Skip keeps the protocol silent this tick.
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "SKIP"
	}
	return "ADVANCE"
}

// Decide gates the exchange on the host's fixed-step clock: a new state is
// only due once the clock has reached the step the driver asked for last.
func Decide(prev *protocol.State, hostClock float64) Decision {
	if prev != nil && hostClock < prev.NextTimestep {
		return Skip
	}
	return Advance
}
