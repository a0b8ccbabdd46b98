package core

import (
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// handleApprove records one follower's APPROVE into the leader's tally
// (spec.md §4.5.4). APPROVEs reaching a non-leader, a leader outside
// WAITING_APPROVAL, or naming an operation other than cur are ignored,
// as is a second APPROVE from the same sender.
func (r *Replica) handleApprove(msg types.Message, senderID int) {
	if r.leader != r.id || r.s != types.WaitingApproval || r.cur == nil || !msg.Operation.Equal(*r.cur) {
		return
	}
	if _, seen := r.msgBuffer[senderID]; seen {
		return
	}
	r.msgBuffer[senderID] = types.Message{PID: senderID, Operation: msg.Operation, Sign: msg.Sign}
	r.maybeTallyApprovals()
}

// maybeTallyApprovals checks the 2f threshold: once the leader holds
// 2f follower APPROVEs and its own, it partitions by signature and
// proposes CONFIRM or ABORT.
func (r *Replica) maybeTallyApprovals() {
	if r.s != types.WaitingApproval || r.ownApprove == nil || len(r.msgBuffer) < 2*r.cluster.F {
		return
	}

	combined := make(map[int]types.Message, len(r.msgBuffer)+1)
	for k, v := range r.msgBuffer {
		combined[k] = v
	}
	combined[r.id] = *r.ownApprove

	groups := make(map[string][]int)
	for pid, m := range combined {
		groups[m.Sign] = append(groups[m.Sign], pid)
	}
	var bestGroup []int
	for _, pids := range groups {
		if len(pids) > len(bestGroup) {
			bestGroup = pids
		}
	}

	f := r.cluster.F
	inCorrectGroup := make(map[int]bool, len(bestGroup))
	for _, pid := range bestGroup {
		inCorrectGroup[pid] = true
	}

	var order types.Message
	var phase types.State

	if len(bestGroup) > f {
		rPrime := *r.cur
		if inCorrectGroup[r.id] {
			rPrime = *r.r
		}
		msgSet := make(map[int]types.Message, len(bestGroup))
		for _, pid := range bestGroup {
			msgSet[pid] = combined[pid]
		}
		order = types.Message{
			Type:                types.Order,
			Config:              r.config,
			Operation:           *r.cur,
			Decision:            types.Confirm,
			SpeculativeResponse: rPrime,
			MsgSet:              msgSet,
		}
		phase = types.StateCommit
	} else {
		order = types.Message{
			Type:                types.Order,
			Config:              r.config,
			Operation:           *r.cur,
			Decision:            types.Abort,
			SpeculativeResponse: *r.r,
			MsgSet:              combined,
		}
		phase = types.StateAbort
	}

	r.t = &phase
	r.lastOrder = &order
	r.s = types.WaitingValidation
	r.msgBuffer = make(map[int]types.Message)
	r.ownApprove = nil

	r.trans.Broadcast(order, transport.ReplicasOnly)
	r.recordOwnValidation(order)
}
