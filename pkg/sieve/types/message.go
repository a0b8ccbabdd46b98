package types

// MsgType is the stable numeric wire code for a protocol message kind.
type MsgType int

const (
	Invoke MsgType = iota + 1
	Execute
	Approve
	Order
	NewSieveConfig
	Confirm
	Abort
	Complain
	ClientInvoke
	Close
	Validation
	Commit
	Start
	Debug
	Rollback
	RequestValue
	OperationNotQueued
)

func (t MsgType) String() string {
	switch t {
	case Invoke:
		return "INVOKE"
	case Execute:
		return "EXECUTE"
	case Approve:
		return "APPROVE"
	case Order:
		return "ORDER"
	case NewSieveConfig:
		return "NEW_SIEVE_CONFIG"
	case Confirm:
		return "CONFIRM"
	case Abort:
		return "ABORT"
	case Complain:
		return "COMPLAIN"
	case ClientInvoke:
		return "CLIENT_INVOKE"
	case Close:
		return "CLOSE"
	case Validation:
		return "VALIDATION"
	case Commit:
		return "COMMIT"
	case Start:
		return "START"
	case Debug:
		return "DEBUG"
	case Rollback:
		return "ROLLBACK"
	case RequestValue:
		return "REQUEST_VALUE"
	case OperationNotQueued:
		return "OPERATION_NOT_QUEUED"
	default:
		return "UNKNOWN"
	}
}

// ClientsIDEntry is one (operation, originating client) pair, the wire
// shape used to carry the clients_ids map since JSON object keys can't
// be tuples.
type ClientsIDEntry struct {
	Operation  Operation `json:"o"`
	ClientID   int       `json:"pid"`
	ClientHost string    `json:"client_host,omitempty"`
	ClientPort int       `json:"client_port,omitempty"`
}

// LeaderBuffer is the cyclic-carry payload shipped from the outgoing
// leader to the incoming leader inside a NEW_SIEVE_CONFIG message: the
// submitter->operation buffer, its FIFO admission order, and the
// operation->client map, bundled so the new leader can resume pending
// work without losing track of who is owed a response.
type LeaderBuffer struct {
	Buffer      map[int]Operation `json:"buffer"`
	BufferQueue []int             `json:"buffer_queue"`
	ClientsIDs  []ClientsIDEntry  `json:"clients_ids"`
}

// ExecutionTiming configures the artificial execution-delay RNG used to
// simulate slow leaders, set via a DEBUG message: a draw in [Low, High]
// at or below Threshold triggers the long-sleep path.
type ExecutionTiming struct {
	Low       int `json:"low"`
	High      int `json:"high"`
	Threshold int `json:"threshold"`
}

// Message is the single wire record for every protocol exchange: a
// type tag plus an open set of optional fields. Fields that don't
// apply to a given message kind are left zero and omitted by the JSON
// codec.
type Message struct {
	Type MsgType `json:"type"`

	// Config is the epoch this message was issued under.
	Config int `json:"c,omitempty"`

	// Operation is the (key, value) this message concerns.
	Operation Operation `json:"o,omitempty"`

	// PID carries a process id: the originating replica for INVOKE,
	// the complaining replica for COMPLAIN, or the next leader for
	// NEW_SIEVE_CONFIG.
	PID int `json:"pid,omitempty"`

	// Sign is the speculative-response digest carried by APPROVE.
	Sign string `json:"sign,omitempty"`

	// Decision is CONFIRM or ABORT, carried by ORDER and VALIDATION.
	Decision MsgType `json:"decision,omitempty"`

	// SpeculativeState (tc) is the wire slot for the leader-computed
	// speculative state. Nothing in the protocol core sets or reads it:
	// a diverging replica adopts only rc on commit.
	SpeculativeState string `json:"tc,omitempty"`

	// SpeculativeResponse (rc) is the leader-computed speculative
	// response a diverging replica must adopt on commit.
	SpeculativeResponse Operation `json:"rc,omitempty"`

	// MsgSet is the proof bundle carried by ORDER (and repeated on the
	// leader's COMMIT): the CONFIRM correct-group or the full ABORT
	// reply collection, keyed by sender pid.
	MsgSet map[int]Message `json:"msg_set,omitempty"`

	// LeaderBuffer carries B/buffer_queue/clients_ids on an
	// initiating NEW_SIEVE_CONFIG, and B/buffer_queue on the new
	// leader's NEW_SIEVE_CONFIG announcement to clients.
	LeaderBuffer *LeaderBuffer `json:"leader_buffer,omitempty"`

	// GenericData flags a NEW_SIEVE_CONFIG as the initiating
	// announcement from the outgoing leader, as opposed to a
	// re-broadcast validation round.
	GenericData bool `json:"generic_data,omitempty"`

	// ClientID is the id of the client that should receive the
	// terminal outcome for Operation, carried on the INVOKE a
	// non-leader replica forwards to the leader.
	ClientID int `json:"client_id,omitempty"`

	// ClientHost and ClientPort carry the originating client's address
	// on a forwarded INVOKE, so the leader can reach a client it has
	// never itself exchanged a datagram with (spec.md §4.5.1's
	// forwarding path: the leader answers the client directly, not
	// through the relaying replica).
	ClientHost string `json:"client_host,omitempty"`
	ClientPort int    `json:"client_port,omitempty"`

	// Value and Found carry a REQUEST_VALUE reply: the resolved value
	// and whether the key was present in the replica's dictionary.
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found,omitempty"`

	// DebugFaulty and DebugExTime are the two DEBUG payloads.
	DebugFaulty *int             `json:"debug_faulty,omitempty"`
	DebugExTime *ExecutionTiming `json:"debug_ex_time,omitempty"`
}
