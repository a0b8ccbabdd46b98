package core

import "github.com/jabolina/sieve-kv/pkg/sieve/types"

// handleDebug applies the two DEBUG payloads of spec.md §6: toggling
// the faulty-simulation flag and reconfiguring the execution-delay
// draw. DEBUG is not epoch-scoped; it is a test/operator control
// message, not a protocol message, so it bypasses the config check.
func (r *Replica) handleDebug(msg types.Message, senderID int) {
	if msg.DebugFaulty != nil {
		r.faulty = *msg.DebugFaulty != 0
	}
	if msg.DebugExTime != nil {
		r.exTiming = *msg.DebugExTime
	}
}

// SetFaulty and SetExecutionTiming apply the same two knobs a DEBUG
// message carries, without a network round-trip. They are only safe
// to call before Start: once the executor goroutine is running, these
// fields are its exclusive property and a DEBUG message is the only
// sanctioned way to reach them.
func (r *Replica) SetFaulty(faulty bool) {
	r.faulty = faulty
}

func (r *Replica) SetExecutionTiming(timing types.ExecutionTiming) {
	r.exTiming = timing
}
