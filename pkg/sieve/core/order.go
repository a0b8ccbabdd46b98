package core

import (
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// validate implements the predicate of spec.md §4.6. It is shared by
// ORDER validation and NEW_SIEVE_CONFIG acceptance since both reduce
// to "does this message agree with what I already believe".
func (r *Replica) validate(m types.Message) bool {
	switch m.Type {
	case types.Order:
		if m.Config != r.config || r.cur == nil || !m.Operation.Equal(*r.cur) {
			return false
		}
		switch m.Decision {
		case types.Confirm:
			if r.r == nil {
				return false
			}
			return checkValidationConfirm(m.MsgSet, *r.r, r.cluster.F)
		case types.Abort:
			return checkValidationAbort(m.MsgSet, r.cluster.F)
		default:
			return false
		}
	case types.NewSieveConfig:
		return r.nextEpoch != nil && m.Config <= *r.nextEpoch && r.nextLeader != nil && m.PID == *r.nextLeader
	default:
		return false
	}
}

// checkValidationConfirm requires at least f+1 msg_set entries, each
// bearing a signature that verifies against this replica's own
// speculative response r.
func checkValidationConfirm(msgSet map[int]types.Message, r types.Operation, f int) bool {
	if len(msgSet) < f+1 {
		return false
	}
	for _, m := range msgSet {
		if !types.Verify(r, m.Sign) {
			return false
		}
	}
	return true
}

// checkValidationAbort requires at least 2f+1 msg_set entries with no
// same-signature subgroup larger than f: no correct quorum could have
// formed, so the abort is justified.
func checkValidationAbort(msgSet map[int]types.Message, f int) bool {
	if len(msgSet) < 2*f+1 {
		return false
	}
	counts := make(map[string]int)
	for _, m := range msgSet {
		counts[m.Sign]++
	}
	for _, c := range counts {
		if c > f {
			return false
		}
	}
	return true
}

// handleOrder is a follower's response to the leader's ORDER
// broadcast (spec.md §4.5.5): validate, store it as last_order, and
// reply VALIDATION.
func (r *Replica) handleOrder(msg types.Message, senderID int) {
	if senderID != r.leader || r.cur == nil || !msg.Operation.Equal(*r.cur) {
		return
	}
	r.lastOrder = &msg

	phase := types.StateAbort
	if msg.Decision == types.Confirm {
		phase = types.StateCommit
	}
	r.t = &phase

	decision := types.Abort
	if r.validate(msg) {
		decision = types.Confirm
	}
	r.trans.Send(types.Message{
		Type:      types.Validation,
		Config:    r.config,
		Operation: *r.cur,
		Decision:  decision,
	}, r.leader)
}

// recordOwnValidation lets the leader validate its own ORDER the same
// way a follower would (spec.md invariant 5: "only replicas, including
// the leader acting as one, produce APPROVE and VALIDATION"), without
// a network round-trip to itself.
func (r *Replica) recordOwnValidation(order types.Message) {
	decision := types.Abort
	if r.validate(order) {
		decision = types.Confirm
	}
	r.recordValidation(r.id, decision)
}

// handleValidation records one follower's VALIDATION into the
// leader's tally.
func (r *Replica) handleValidation(msg types.Message, senderID int) {
	if r.leader != r.id || r.s != types.WaitingValidation || r.lastOrder == nil || !msg.Operation.Equal(r.lastOrder.Operation) {
		return
	}
	r.recordValidation(senderID, msg.Decision)
}

func (r *Replica) recordValidation(senderID int, decision types.MsgType) {
	if _, seen := r.msgBuffer[senderID]; seen {
		return
	}
	r.msgBuffer[senderID] = types.Message{PID: senderID, Decision: decision}
	if len(r.msgBuffer) > 2*r.cluster.F {
		r.tallyValidations()
	}
}

// tallyValidations resolves the leader's proposed outcome against
// what followers actually validated (spec.md §4.5.5).
func (r *Replica) tallyValidations() {
	f := r.cluster.F
	confirmCount := 0
	for _, m := range r.msgBuffer {
		if m.Decision == types.Confirm {
			confirmCount++
		}
	}

	switch *r.t {
	case types.StateCommit:
		if confirmCount > f {
			r.doCommit()
		} else {
			r.newConfig = true
			r.doAbort()
		}
	case types.StateAbort:
		r.newConfig = confirmCount <= f
		r.doAbort()
	}
}
