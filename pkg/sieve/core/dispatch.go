package core

import "github.com/jabolina/sieve-kv/pkg/sieve/types"

// process routes one inbound message to its handler. Stale-epoch
// traffic is discarded here for every message kind that carries a
// config, per spec.md §5's "stale-epoch messages are discarded by the
// config check in every handler" — except the few kinds that must
// remain reachable across an epoch boundary (CLOSE, DEBUG,
// NEW_SIEVE_CONFIG, which carries the *next* epoch, and CLIENT_INVOKE/
// REQUEST_VALUE, which are not epoch-scoped at all).
func (r *Replica) process(msg types.Message, senderID int) {
	switch msg.Type {
	case types.ClientInvoke:
		r.handleClientInvoke(msg, senderID)
	case types.Invoke:
		r.withCurrentConfig(msg, func() { r.handleInvoke(msg, senderID) })
	case types.Execute:
		r.withCurrentConfig(msg, func() { r.handleExecute(msg, senderID) })
	case types.Approve:
		r.withCurrentConfig(msg, func() { r.handleApprove(msg, senderID) })
	case types.Order:
		r.withCurrentConfig(msg, func() { r.handleOrder(msg, senderID) })
	case types.Validation:
		r.withCurrentConfig(msg, func() { r.handleValidation(msg, senderID) })
	case types.Commit:
		r.withCurrentConfig(msg, func() { r.handleCommit(msg, senderID) })
	case types.Abort:
		r.withCurrentConfig(msg, func() { r.handleAbort(msg, senderID) })
	case types.Complain:
		r.withCurrentConfig(msg, func() { r.handleComplain(msg, senderID) })
	case types.NewSieveConfig:
		r.handleNewSieveConfig(msg, senderID)
	case types.RequestValue:
		r.handleRequestValue(msg, senderID)
	case types.Debug:
		r.handleDebug(msg, senderID)
	case types.Close:
		r.handleClose()
	default:
		r.log.Warnf("unsupported message type %s from %d ignored", msg.Type, senderID)
	}
}

func (r *Replica) withCurrentConfig(msg types.Message, fn func()) {
	if msg.Config != r.config {
		r.log.Debugf("dropping %s at stale config %d (self at %d)", msg.Type, msg.Config, r.config)
		return
	}
	fn()
}
