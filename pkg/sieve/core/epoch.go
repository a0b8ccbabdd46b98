package core

import (
	"time"

	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// handleComplain is the leader's reaction to a follower's COMPLAIN
// about the operation currently in flight (spec.md §4.7): notify the
// client of the complaint, then run the same ABORT/ROLLBACK path as
// any other abort, with an epoch change forced at the end of it.
func (r *Replica) handleComplain(msg types.Message, senderID int) {
	if r.leader != r.id || r.cur == nil || !msg.Operation.Equal(*r.cur) {
		return
	}
	if rec, ok := r.clientsIDs[canonicalKey(*r.cur)]; ok {
		r.trans.Send(types.Message{Type: types.Complain, Config: r.config, Operation: *r.cur}, rec.clientID)
	}
	r.newConfig = true
	r.doAbort()
}

// sendComplaint is the age-checker-triggered path (spec.md §4.7): a
// non-leader whose queued operation equals cur and has gone stale
// tells the leader. Re-validated against the executor's current cur,
// since time may have passed between the age-checker's scan and this
// event reaching the executor.
func (r *Replica) sendComplaint(op types.Operation) {
	if r.cur == nil || !op.Equal(*r.cur) {
		return
	}
	r.trans.Send(types.Message{Type: types.Complain, Config: r.config, Operation: op, PID: r.id}, r.leader)
}

// beginEpochChange is the leader's NEW_CONFIG procedure of spec.md
// §4.7: pick a successor at random, broadcast the initiating
// NEW_SIEVE_CONFIG carrying the leader_buffer, and record its own
// vote. Only ever called on the current leader — followers only ever
// react to a received NEW_SIEVE_CONFIG in handleNewSieveConfig.
func (r *Replica) beginEpochChange() {
	nextEpoch := r.config + 1
	nextLeader := r.rnd.pickLeader(r.id, r.allReplicaIDs())

	r.nextEpoch = &nextEpoch
	r.nextLeader = &nextLeader
	r.s = types.NewConfig
	now := time.Now()
	r.newSieveConfigStart = &now
	r.msgBuffer = make(map[int]types.Message)

	initiating := types.Message{
		Type:        types.NewSieveConfig,
		Config:      nextEpoch,
		PID:         nextLeader,
		GenericData: true,
		LeaderBuffer: &types.LeaderBuffer{
			Buffer:      copyBuffer(r.buffer),
			BufferQueue: append([]int{}, r.bufferQueue...),
			ClientsIDs:  clientsIDsToEntries(r.clientsIDs),
		},
	}
	r.trans.Broadcast(initiating, transport.ReplicasOnly)
	r.recordNewConfigVote(r.id)
}

// handleNewSieveConfig implements spec.md §4.7 points 3-4: adopt the
// proposed (next_epoch, next_leader) on first sight, echo it to the
// rest of the cluster so every replica's tally can reach 2f+1, and
// install the epoch once enough matching votes have arrived.
func (r *Replica) handleNewSieveConfig(msg types.Message, senderID int) {
	freshAdoption := false
	if r.nextEpoch == nil || *r.nextEpoch != msg.Config || r.nextLeader == nil || *r.nextLeader != msg.PID {
		if msg.Config <= r.config {
			return
		}
		epoch, leader := msg.Config, msg.PID
		r.nextEpoch = &epoch
		r.nextLeader = &leader
		r.s = types.NewConfig
		now := time.Now()
		r.newSieveConfigStart = &now
		r.msgBuffer = make(map[int]types.Message)
		freshAdoption = true
	}

	if msg.GenericData && msg.LeaderBuffer != nil && msg.PID == r.id {
		r.buffer = copyBuffer(msg.LeaderBuffer.Buffer)
		r.bufferQueue = append([]int{}, msg.LeaderBuffer.BufferQueue...)
		r.clientsIDs = entriesToClientRecords(msg.LeaderBuffer.ClientsIDs)
		for _, entry := range msg.LeaderBuffer.ClientsIDs {
			if entry.ClientHost != "" {
				r.trans.AddPeer(entry.ClientID, config.Peer{ID: entry.ClientID, Host: entry.ClientHost, Port: entry.ClientPort, Key: r.cluster.ClientKey})
			}
		}
	}

	if freshAdoption {
		echo := types.Message{Type: types.NewSieveConfig, Config: *r.nextEpoch, PID: *r.nextLeader}
		r.trans.Broadcast(echo, transport.ReplicasOnly)
		r.recordNewConfigVote(r.id)
	}

	if senderID != r.id && r.validate(msg) {
		r.recordNewConfigVote(senderID)
	}
}

func (r *Replica) recordNewConfigVote(senderID int) {
	if _, seen := r.msgBuffer[senderID]; seen {
		return
	}
	r.msgBuffer[senderID] = types.Message{PID: senderID}
	if len(r.msgBuffer) > 2*r.cluster.F {
		r.installEpoch()
	}
}

// advanceNewConfig restarts a stalled round with a fresh next_leader
// pick once NEW_SIEVE_CONFIG_THRESHOLD elapses without installing
// (spec.md §4.7.5). Only the round's current leader restarts it;
// followers simply wait for the next initiating broadcast.
func (r *Replica) advanceNewConfig() {
	if r.newSieveConfigStart == nil || time.Since(*r.newSieveConfigStart) < NewSieveConfigThreshold {
		return
	}
	if r.leader != r.id {
		return
	}
	r.beginEpochChange()
}

// installEpoch is spec.md §4.7 point 4: atomically adopt the new
// (config, leader), clear round-scoped state, reset I's ages, and —
// on the new leader — announce the new configuration to clients.
func (r *Replica) installEpoch() {
	r.config = *r.nextEpoch
	r.leader = *r.nextLeader
	r.configSnapshot.Store(int32(r.config))
	r.leaderSnapshot.Store(int32(r.leader))
	r.nextEpoch = nil
	r.nextLeader = nil
	r.msgBuffer = make(map[int]types.Message)
	r.ownApprove = nil
	r.t = nil
	r.newSieveConfigStart = nil
	r.cur = nil
	r.curPID = 0
	r.r = nil
	r.lastOrder = nil
	r.s = types.S0

	if r.leader != r.id {
		r.buffer = make(map[int]types.Operation)
		r.bufferQueue = nil
		r.clientsIDs = make(map[string]clientRecord)
	}

	r.opQueue.ResetAges()

	if r.leader == r.id {
		out := types.Message{
			Type:   types.NewSieveConfig,
			Config: r.config,
			PID:    r.leader,
			LeaderBuffer: &types.LeaderBuffer{
				Buffer:      copyBuffer(r.buffer),
				BufferQueue: append([]int{}, r.bufferQueue...),
			},
		}
		r.trans.Broadcast(out, transport.ClientsOnly)
	}
}

func (r *Replica) allReplicaIDs() []int {
	ids := make([]int, 0, r.cluster.N)
	for i := 1; i <= r.cluster.N; i++ {
		ids = append(ids, i)
	}
	return ids
}

func copyBuffer(b map[int]types.Operation) map[int]types.Operation {
	out := make(map[int]types.Operation, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

func clientsIDsToEntries(m map[string]clientRecord) []types.ClientsIDEntry {
	out := make([]types.ClientsIDEntry, 0, len(m))
	for _, rec := range m {
		out = append(out, types.ClientsIDEntry{
			Operation:  rec.operation,
			ClientID:   rec.clientID,
			ClientHost: rec.clientHost,
			ClientPort: rec.clientPort,
		})
	}
	return out
}

func entriesToClientRecords(entries []types.ClientsIDEntry) map[string]clientRecord {
	out := make(map[string]clientRecord, len(entries))
	for _, e := range entries {
		out[canonicalKey(e.Operation)] = clientRecord{
			operation:  e.Operation,
			clientID:   e.ClientID,
			clientHost: e.ClientHost,
			clientPort: e.ClientPort,
		}
	}
	return out
}
