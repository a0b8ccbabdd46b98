package core

import (
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// doCommit is the leader's side of spec.md §4.5.6: broadcast COMMIT
// carrying the proof the followers need for invariant 4's
// self-correction, then apply the same message to itself.
func (r *Replica) doCommit() {
	commit := types.Message{
		Type:                types.Commit,
		Config:              r.config,
		Operation:           *r.cur,
		MsgSet:              r.lastOrder.MsgSet,
		SpeculativeResponse: r.lastOrder.SpeculativeResponse,
	}
	r.trans.Broadcast(commit, transport.ReplicasOnly)
	r.applyCommit(commit)
}

// handleCommit is a follower's reception of the leader's COMMIT
// broadcast.
func (r *Replica) handleCommit(msg types.Message, senderID int) {
	if senderID != r.leader || r.cur == nil || !msg.Operation.Equal(*r.cur) {
		return
	}
	r.applyCommit(msg)
}

// applyCommit is spec.md §4.5.6's shared cleanup: apply the dictionary
// write (the operation cur itself if this replica was in the correct
// group, otherwise the leader-provided rc), clear protocol state,
// and — on the leader — answer the originating client.
func (r *Replica) applyCommit(msg types.Message) {
	op := *r.cur
	if _, inGroup := msg.MsgSet[r.id]; inGroup {
		r.dict.Set(op.Key, op.Value)
	} else {
		r.dict.Set(msg.SpeculativeResponse.Key, msg.SpeculativeResponse.Value)
	}

	if r.leader == r.id {
		delete(r.buffer, r.curPID)
		if rec, ok := r.clientsIDs[canonicalKey(op)]; ok {
			r.trans.Send(types.Message{
				Type:      types.Commit,
				Config:    r.config,
				Operation: op,
			}, rec.clientID)
		}
	}

	r.finishOperation(op)
}

// doAbort is the leader's side of spec.md §4.5.7: broadcast ABORT,
// notify the originating client with ROLLBACK, and apply the same
// cleanup to itself. If the abort was involuntary or disputed, begin
// an epoch change.
func (r *Replica) doAbort() {
	op := *r.cur
	abort := types.Message{Type: types.Abort, Config: r.config, Operation: op}
	r.trans.Broadcast(abort, transport.ReplicasOnly)

	delete(r.buffer, r.curPID)
	if rec, ok := r.clientsIDs[canonicalKey(op)]; ok {
		r.trans.Send(types.Message{
			Type:      types.Rollback,
			Config:    r.config,
			Operation: op,
		}, rec.clientID)
	}

	r.finishOperation(op)

	if r.newConfig {
		r.newConfig = false
		r.beginEpochChange()
	}
}

// handleAbort is a follower's reception of the leader's ABORT
// broadcast: the same cleanup, without any client-facing output since
// only the leader tracks which client is owed a response.
func (r *Replica) handleAbort(msg types.Message, senderID int) {
	if senderID != r.leader || r.cur == nil || !msg.Operation.Equal(*r.cur) {
		return
	}
	r.finishOperation(*r.cur)
}

// finishOperation is the state reset shared by commit and abort:
// remove the operation from I and clear every in-flight field so the
// next EXECUTE can be admitted.
func (r *Replica) finishOperation(op types.Operation) {
	r.opQueue.Remove(op)
	delete(r.clientsIDs, canonicalKey(op))
	r.cur = nil
	r.curPID = 0
	r.r = nil
	r.t = nil
	r.lastOrder = nil
	r.msgBuffer = make(map[int]types.Message)
	r.ownApprove = nil
	if r.s != types.NewConfig {
		r.s = types.S0
	}
}

// handleRequestValue answers a client's REQUEST_VALUE from this
// replica's own dictionary, without any quorum (spec.md §6): reads can
// be stale. This does not mutate protocol state, but is routed through
// the executor regardless so the dictionary is never read mid-commit
// from another goroutine.
func (r *Replica) handleRequestValue(msg types.Message, clientID int) {
	value, found := r.dict.Get(msg.Operation.Key)
	r.trans.Send(types.Message{
		Type:      types.RequestValue,
		Config:    r.config,
		Operation: types.Operation{Key: msg.Operation.Key},
		Value:     value,
		Found:     found,
	}, clientID)
}

// handleClose drives this replica into CLOSING, stopping every loop
// (spec.md §6 "Exit"). The executor returns as soon as this call
// completes; shutdown additionally wakes the age-checker, which only
// watches r.done.
func (r *Replica) handleClose() {
	r.s = types.Closing
	r.shutdown()
}
