package core

import (
	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// handleClientInvoke implements spec.md §4.5.1's invocation path: a
// non-leader records the operation into I and forwards it as INVOKE,
// including the client's own address so the leader can answer it
// directly without ever having exchanged a datagram with it; the
// leader re-enters its own admission path directly.
func (r *Replica) handleClientInvoke(msg types.Message, clientID int) {
	op := msg.Operation
	r.opQueue.Add(op, clientID)

	if r.leader == r.id {
		host, port := "", 0
		if peer, ok := r.trans.Peer(clientID); ok {
			host, port = peer.Host, peer.Port
		}
		r.admit(r.id, op, clientID, host, port)
		return
	}

	invoke := types.Message{
		Type:      types.Invoke,
		Config:    r.config,
		Operation: op,
		PID:       r.id,
		ClientID:  clientID,
	}
	if peer, ok := r.trans.Peer(clientID); ok {
		invoke.ClientHost = peer.Host
		invoke.ClientPort = peer.Port
	}
	r.trans.Send(invoke, r.leader)
}

// handleInvoke is the leader's admission of one submitter's operation
// into B, per spec.md §4.5.1. A submitter already represented in B is
// a duplicate and is silently ignored (spec.md §7(b)).
func (r *Replica) handleInvoke(msg types.Message, senderID int) {
	if r.leader != r.id {
		return
	}
	r.admit(senderID, msg.Operation, msg.ClientID, msg.ClientHost, msg.ClientPort)
}

func (r *Replica) admit(submitter int, op types.Operation, clientID int, clientHost string, clientPort int) {
	if _, exists := r.buffer[submitter]; exists {
		return
	}
	if clientHost != "" {
		r.trans.AddPeer(clientID, config.Peer{ID: clientID, Host: clientHost, Port: clientPort, Key: r.cluster.ClientKey})
	}
	r.buffer[submitter] = op
	r.bufferQueue = append(r.bufferQueue, submitter)
	r.clientsIDs[canonicalKey(op)] = clientRecord{operation: op, clientID: clientID, clientHost: clientHost, clientPort: clientPort}
}

// clientRecord pairs a queued operation with the client that should
// receive its terminal outcome, the Go analogue of the clients_ids
// entries that original_source carries as JSON [op, client_id] pairs.
// The address fields let a new leader, after an epoch change, reach a
// client it never itself exchanged a datagram with.
type clientRecord struct {
	operation  types.Operation
	clientID   int
	clientHost string
	clientPort int
}

// requestExecution is the leader's step from S0 into ELABORATION
// (spec.md §4.5.2): pop the head of buffer_queue, broadcast EXECUTE,
// and begin speculative execution on the leader's own copy.
func (r *Replica) requestExecution() {
	pid := r.bufferQueue[0]
	r.bufferQueue = r.bufferQueue[1:]

	op := r.buffer[pid]
	r.cur = &op
	r.curPID = pid
	r.s = types.Elaboration
	r.t = nil
	r.pendingExec = nil

	r.trans.Broadcast(types.Message{
		Type:      types.Execute,
		Config:    r.config,
		Operation: op,
	}, transport.ReplicasOnly)
}

// canonicalKey is the map key used for clients_ids, which spec.md §3
// models as a mapping from operation to originating client id; Go map
// keys can't be byte slices, so operations are flattened to a string.
func canonicalKey(op types.Operation) string {
	return string(op.Key) + "\x00" + string(op.Value)
}
