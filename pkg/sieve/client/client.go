// Package client implements the Client stub component of spec.md §6 /
// SPEC_FULL.md §4.8: a minimal submitter that sends CLIENT_INVOKE and
// REQUEST_VALUE to a chosen replica and waits for the matching
// terminal response.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/core"
	"github.com/jabolina/sieve-kv/pkg/sieve/transport"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// Client is one protocol client: a transport endpoint plus a
// single-slot mailbox for the last message received (spec.md §5: "a
// single last-message slot" is the only state needing its own lock on
// the client side, besides the socket).
type Client struct {
	trans *transport.Transport

	mu     sync.Mutex
	last   types.Message
	notify chan struct{}

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New binds a client transport on port (expected to be above
// config.ClientPortThreshold so replicas classify it correctly) and
// starts its listener task.
func New(port, bufferSize int, peers map[int]config.Peer, clientKey string, log types.Logger) (*Client, error) {
	trans, err := transport.New(0, port, bufferSize, config.ClientPIDBase, clientKey, peers, log)
	if err != nil {
		return nil, err
	}
	c := &Client{
		trans:  trans,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Close stops the listener task and releases the socket.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
	c.trans.Close()
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case env := <-c.trans.Listen():
			c.mu.Lock()
			c.last = env.Message
			c.mu.Unlock()
			select {
			case c.notify <- struct{}{}:
			default:
			}
		}
	}
}

// Invoke sends CLIENT_INVOKE(key, value) to replicaID and blocks until
// a terminal outcome for this exact operation, or any NEW_SIEVE_CONFIG
// announcement (which names no operation), is observed or ctx is done
// (spec.md §6's exhaustive outcome list).
func (c *Client) Invoke(ctx context.Context, replicaID int, key, value []byte) (core.Outcome, error) {
	op := types.Operation{Key: key, Value: value}
	c.trans.Send(types.Message{Type: types.ClientInvoke, Operation: op}, replicaID)

	for {
		select {
		case <-ctx.Done():
			return core.Outcome{}, ctx.Err()
		case <-c.notify:
			c.mu.Lock()
			msg := c.last
			c.mu.Unlock()
			if msg.Type == types.NewSieveConfig || (isTerminal(msg.Type) && msg.Operation.Equal(op)) {
				return toOutcome(msg), nil
			}
		}
	}
}

// RequestValue sends REQUEST_VALUE(key) to replicaID and returns the
// replica's local, possibly-stale answer (spec.md §6: no quorum read).
func (c *Client) RequestValue(ctx context.Context, replicaID int, key []byte) ([]byte, bool, error) {
	c.trans.Send(types.Message{Type: types.RequestValue, Operation: types.Operation{Key: key}}, replicaID)

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-c.notify:
			c.mu.Lock()
			msg := c.last
			c.mu.Unlock()
			if msg.Type == types.RequestValue && string(msg.Operation.Key) == string(key) {
				return msg.Value, msg.Found, nil
			}
		}
	}
}

func isTerminal(t types.MsgType) bool {
	switch t {
	case types.Commit, types.Abort, types.Rollback, types.Complain, types.NewSieveConfig, types.OperationNotQueued:
		return true
	default:
		return false
	}
}

func toOutcome(msg types.Message) core.Outcome {
	out := core.Outcome{
		Type:      msg.Type,
		Config:    msg.Config,
		Operation: msg.Operation,
		Found:     msg.Found,
		Value:     msg.Value,
	}
	if msg.Type == types.NewSieveConfig {
		out.NewLeader = msg.PID
	}
	return out
}

// OutcomeString renders an outcome the way the client CLI prints it.
func OutcomeString(o core.Outcome) string {
	switch o.Type {
	case types.NewSieveConfig:
		return fmt.Sprintf("NEW_SIEVE_CONFIG epoch=%d new_leader=%d", o.Config, o.NewLeader)
	default:
		return fmt.Sprintf("%s epoch=%d key=%q value=%q", o.Type, o.Config, o.Operation.Key, o.Operation.Value)
	}
}
