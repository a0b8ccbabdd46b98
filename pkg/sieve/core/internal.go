package core

import "github.com/jabolina/sieve-kv/pkg/sieve/types"

// internalEvent is posted by the age-checker task onto the executor's
// own channel instead of mutating protocol state directly, keeping the
// executor the single writer spec.md §5 requires.
type internalEvent interface {
	isInternalEvent()
}

// agedOperation is posted by the age-checker for one operation that
// has sat in I past OP_MAX_AGE. Only the executor knows whether cur is
// still current, so the COMPLAIN-vs-OPERATION_NOT_QUEUED decision of
// spec.md §4.7 is made here rather than racing on cur from the
// age-checker goroutine.
type agedOperation struct {
	operation types.Operation
	clientID  int
}

func (agedOperation) isInternalEvent() {}

func (r *Replica) handleInternal(evt internalEvent) {
	op, ok := evt.(agedOperation)
	if !ok {
		return
	}
	if r.cur != nil && op.operation.Equal(*r.cur) {
		r.sendComplaint(op.operation)
		return
	}
	r.opQueue.Remove(op.operation)
	r.trans.Send(types.Message{
		Type:      types.OperationNotQueued,
		Config:    r.config,
		Operation: op.operation,
	}, op.clientID)
}
