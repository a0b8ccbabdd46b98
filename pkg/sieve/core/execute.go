package core

import (
	"time"

	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// handleExecute admits a leader-issued EXECUTE into elaboration on a
// follower (spec.md §4.5.3). Re-entry while already elaborating is
// ignored: invariant 1 forbids a second cur before the first clears.
func (r *Replica) handleExecute(msg types.Message, senderID int) {
	if senderID != r.leader || r.cur != nil {
		return
	}
	op := msg.Operation
	r.cur = &op
	r.curPID = 0
	r.s = types.Elaboration
	r.t = nil
	r.pendingExec = nil
}

// advanceElaboration drives one replica's speculative execution
// forward by at most one tick. A "slow" draw never blocks the
// executor: it records a deadline and lets later ticks re-check s,
// so a NEW_CONFIG or CLOSING transition started by an intervening
// message abandons the stuck execution instead of starving it
// (spec.md §5).
func (r *Replica) advanceElaboration() {
	if r.cur == nil {
		return
	}

	if r.pendingExec == nil {
		if r.rnd.drawExecutionTiming(r.exTiming) {
			r.pendingExec = &pendingExecution{
				deadline: time.Now().Add(ComplainThreshold),
				cur:      *r.cur,
			}
			return
		}
		r.completeElaboration()
		return
	}

	if !r.pendingExec.cur.Equal(*r.cur) {
		r.pendingExec = nil
		return
	}
	if time.Now().Before(r.pendingExec.deadline) {
		return
	}
	r.pendingExec = nil
	r.completeElaboration()
}

// completeElaboration computes (t, r) for the current operation
// (spec.md §4.5.3) and either records the leader's own APPROVE
// directly or sends it over the wire.
func (r *Replica) completeElaboration() {
	op := *r.cur

	resp := op
	if r.faulty {
		resp = types.MangleFaulty(op, r.id)
	}
	r.r = &resp

	var phase types.State
	if r.leader == r.id {
		phase = types.WaitingApproval
	} else {
		phase = types.WaitingOrder
	}
	r.t = &phase
	r.s = phase

	sig := types.Sign(resp)

	if r.leader == r.id {
		own := types.Message{PID: r.id, Operation: op, Sign: sig}
		r.ownApprove = &own
		r.maybeTallyApprovals()
		return
	}

	r.trans.Send(types.Message{
		Type:      types.Approve,
		Config:    r.config,
		Operation: op,
		Sign:      sig,
	}, r.leader)
}
