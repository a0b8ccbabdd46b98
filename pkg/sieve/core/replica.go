// Package core implements the Replica state machine of spec.md §4.5:
// the protocol engine driving routing, speculative execution, approval
// tallying, validation consensus, commit/abort, and epoch change.
package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// Tunable timers, named directly after spec.md §4.7/§4.5. These are
// vars rather than consts so scenario tests can shrink them instead of
// waiting out production-scale durations; nothing in core reassigns
// them outside test code.
var (
	// OpMaxAge is how long an operation may sit in I before the
	// age-checker treats it as stuck.
	OpMaxAge = 4 * time.Second

	// ComplainThreshold is how long a speculative execution that took
	// the draw-triggered long path simulates "slow leader" behavior
	// before it completes.
	ComplainThreshold = 7 * time.Second

	// NewSieveConfigThreshold is how long one epoch-change round may
	// run before it is abandoned and restarted with a fresh
	// next_leader pick.
	NewSieveConfigThreshold = 3 * time.Second

	tickInterval = 10 * time.Millisecond
	ageCheckTick = 100 * time.Millisecond
)

// ExecutionTimingDefault is the default (lo, hi, threshold) draw used
// when no DEBUG message has overridden it: a draw in [1,100] at or
// below 20 triggers the long simulated-execution path.
var ExecutionTimingDefault = types.ExecutionTiming{Low: 1, High: 100, Threshold: 20}

// Outcome is the terminal result of one client operation, delivered to
// the client stub over the client's transport. It mirrors spec.md §6's
// exhaustive outcome list.
type Outcome struct {
	Type      types.MsgType
	Config    int
	Operation types.Operation
	// NewLeader is only set for a NEW_SIEVE_CONFIG outcome.
	NewLeader int
	Found     bool
	Value     []byte
}

// pendingExecution tracks an in-flight simulated "slow" speculative
// execution so the executor never blocks: each tick checks whether the
// deadline has passed instead of sleeping synchronously (spec.md §5's
// "re-reading s each slice").
type pendingExecution struct {
	deadline time.Time
	cur      types.Operation
}

// Replica is one Sieve protocol participant. All of its fields below
// the dashed line are mutated exclusively by the run goroutine (the
// "executor" of spec.md §5); the fields above it are safe for
// concurrent access from other goroutines.
type Replica struct {
	id      int
	cluster *config.Cluster
	trans   *transport.Transport
	log     types.Logger
	dict    *types.Dictionary
	opQueue *types.OpQueue

	internal chan internalEvent
	done     chan struct{}
	closeOne sync.Once
	wg       sync.WaitGroup

	rnd *randSource

	// configSnapshot/leaderSnapshot mirror config/leader below for
	// lock-free reads from outside the executor (operator tooling,
	// tests). The executor updates them whenever it updates config/leader.
	configSnapshot atomic.Int32
	leaderSnapshot atomic.Int32

	// -----------------------------------------------------------
	config       int
	leader       int
	nextEpoch    *int
	nextLeader   *int
	s            types.State
	t            *types.State
	faulty       bool
	exTiming     types.ExecutionTiming
	pendingExec  *pendingExecution

	buffer      map[int]types.Operation // B
	bufferQueue []int                   // buffer_queue, FIFO

	cur    *types.Operation
	curPID int

	r *types.Operation // speculative response

	msgBuffer  map[int]types.Message // APPROVE/VALIDATION/NEW_SIEVE_CONFIG tally
	ownApprove *types.Message        // leader's own APPROVE, merged in at the 2f threshold
	lastOrder  *types.Message
	newConfig  bool // set when the pending abort/commit outcome must trigger an epoch change

	clientsIDs map[string]clientRecord // canonical(op) -> (op, client id), for the leader's output routing

	newSieveConfigStart *time.Time
}

// New creates a Replica bound to the given cluster's topology. It does
// not start any goroutines; call Start for that.
func New(cluster *config.Cluster, log types.Logger) (*Replica, error) {
	t, err := transport.New(cluster.SelfID, cluster.SelfPort, cluster.BufferSize, config.ClientPIDBase, cluster.ClientKey, cluster.Peers, log)
	if err != nil {
		return nil, err
	}

	r := &Replica{
		id:         cluster.SelfID,
		cluster:    cluster,
		trans:      t,
		log:        log,
		dict:       types.NewDictionary(),
		opQueue:    types.NewOpQueue(),
		internal:   make(chan internalEvent, 64),
		done:       make(chan struct{}),
		rnd:        newRandSource(),
		config:     0,
		leader:     1,
		s:          types.S0,
		faulty:     cluster.Faulty,
		exTiming:   ExecutionTimingDefault,
		buffer:     make(map[int]types.Operation),
		msgBuffer:  make(map[int]types.Message),
		clientsIDs: make(map[string]clientRecord),
	}
	r.configSnapshot.Store(0)
	r.leaderSnapshot.Store(1)
	return r, nil
}

// Start launches the executor and age-checker goroutines. The
// transport's own listener goroutine is already running since New
// called transport.New.
func (r *Replica) Start() {
	r.wg.Add(2)
	go r.run()
	go r.ageCheck()
}

// Close stops the executor and age-checker loops, waits for them to
// exit, and releases the transport. There is no persistent state to
// flush (spec.md §6 "Exit").
func (r *Replica) Close() {
	r.shutdown()
	r.wg.Wait()
	r.trans.Close()
}

// shutdown signals both the executor and the age-checker to stop,
// whether triggered locally (Close) or by a CLOSE message received
// from the network (handleClose).
func (r *Replica) shutdown() {
	r.closeOne.Do(func() {
		close(r.done)
	})
}

// Dictionary exposes the committed key-value state for local,
// possibly-stale reads (spec.md §6 REQUEST_VALUE semantics), and for
// tests asserting on committed values directly.
func (r *Replica) Dictionary() *types.Dictionary {
	return r.dict
}

// ID returns this replica's process id.
func (r *Replica) ID() int {
	return r.id
}

// Config returns the replica's last-installed epoch number. Safe to
// call from any goroutine.
func (r *Replica) Config() int {
	return int(r.configSnapshot.Load())
}

// Leader returns the replica's current view of who leads the active
// epoch. Safe to call from any goroutine.
func (r *Replica) Leader() int {
	return int(r.leaderSnapshot.Load())
}

// run is the executor task: the only goroutine that mutates protocol
// state (spec.md §5).
func (r *Replica) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case env := <-r.trans.Listen():
			r.process(env.Message, env.SenderID)
			if r.s == types.Closing {
				return
			}
		case evt := <-r.internal:
			r.handleInternal(evt)
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick advances time-driven protocol transitions: leader admission
// into elaboration, in-flight speculative execution, and new-config
// round timeouts. It never blocks.
func (r *Replica) tick() {
	if r.s == types.S0 && r.leader == r.id && len(r.bufferQueue) > 0 && r.cur == nil {
		r.requestExecution()
	}

	if r.s == types.Elaboration {
		r.advanceElaboration()
	}

	if r.s == types.NewConfig {
		r.advanceNewConfig()
	}
}
