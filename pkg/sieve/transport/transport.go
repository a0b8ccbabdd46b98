// Package transport implements the Secure transport component of
// spec.md §4.1: a datagram-oriented, per-peer encrypted UDP channel.
// There are no delivery or ordering guarantees at this layer — the
// protocol above tolerates reordering and loss by design (spec.md
// §5).
package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	sievecrypto "github.com/jabolina/sieve-kv/pkg/sieve/crypto"
	"github.com/jabolina/sieve-kv/pkg/sieve/config"
	"github.com/jabolina/sieve-kv/pkg/sieve/types"
)

// Scope selects which known peers a Broadcast fans out to.
type Scope int

const (
	// ReplicasOnly sends to every peer below the client id threshold.
	ReplicasOnly Scope = iota
	// ClientsOnly sends to every peer at or above the client id
	// threshold.
	ClientsOnly
	// AllPeers sends to every known peer regardless of kind.
	AllPeers
)

// Envelope pairs a decoded message with the id of the peer that
// (claimed to have) sent it.
type Envelope struct {
	Message  types.Message
	SenderID int
}

// Transport is the secure datagram transport. One Transport binds one
// UDP endpoint and owns the peer table for the process it serves.
type Transport struct {
	log types.Logger

	conn       *net.UDPConn
	bufferSize int

	selfID int

	mu           sync.RWMutex
	peers        map[int]config.Peer
	clientIDBase int
	clientKey    string

	inbox chan Envelope
	done  chan struct{}
	once  sync.Once
}

// New binds a UDP socket on port and returns a Transport seeded with
// the given peer table. clientIDBase is the id threshold Broadcast uses
// to tell clients (ids at or above it) from replicas; inbound source
// ports are classified against config.ClientPortThreshold instead.
func New(selfID, port, bufferSize, clientIDBase int, clientKey string, peers map[int]config.Peer, log types.Logger) (*Transport, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("sieve/transport: listen on %d: %w", port, err)
	}

	peerCopy := make(map[int]config.Peer, len(peers))
	for id, p := range peers {
		peerCopy[id] = p
	}

	t := &Transport{
		log:          log,
		conn:         conn,
		bufferSize:   bufferSize,
		selfID:       selfID,
		peers:        peerCopy,
		clientIDBase: clientIDBase,
		clientKey:    clientKey,
		inbox:        make(chan Envelope, 256),
		done:         make(chan struct{}),
	}
	go t.poll()
	return t, nil
}

// Send encrypts and sends msg to the named peer. Failures are logged
// and swallowed (spec.md §7(a)): the protocol retries by nature of
// its higher-level timers, never by retrying the datagram itself.
func (t *Transport) Send(msg types.Message, peerID int) {
	t.mu.RLock()
	peer, ok := t.peers[peerID]
	t.mu.RUnlock()
	if !ok {
		t.log.Errorf("send to unknown peer %d dropped", peerID)
		return
	}

	plaintext, err := json.Marshal(msg)
	if err != nil {
		t.log.Errorf("marshal message for %d failed: %v", peerID, err)
		return
	}

	ciphertext, err := sievecrypto.Encrypt(peer.Key, plaintext)
	if err != nil {
		t.log.Errorf("encrypt message for %d failed: %v", peerID, err)
		return
	}

	addr, err := net.ResolveUDPAddr("udp", peer.Address())
	if err != nil {
		t.log.Errorf("resolve address for %d (%s) failed: %v", peerID, peer.Address(), err)
		return
	}

	if _, err := t.conn.WriteToUDP(ciphertext, addr); err != nil {
		t.log.Errorf("send datagram to %d failed: %v", peerID, err)
	}
}

// Broadcast sends msg to every currently-known peer matching scope.
func (t *Transport) Broadcast(msg types.Message, scope Scope) {
	t.mu.RLock()
	ids := make([]int, 0, len(t.peers))
	for id := range t.peers {
		switch scope {
		case ReplicasOnly:
			if id < t.clientIDBase {
				ids = append(ids, id)
			}
		case ClientsOnly:
			if id >= t.clientIDBase {
				ids = append(ids, id)
			}
		default:
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()

	for _, id := range ids {
		t.Send(msg, id)
	}
}

// AddPeer registers or overwrites a peer's address and key, used when
// a replica learns a client's address from another replica (a
// forwarded INVOKE or a handed-off leader buffer).
func (t *Transport) AddPeer(id int, peer config.Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[id] = peer
}

// Peer returns the address/key this transport currently has on file
// for id, so a replica relaying a client's request to another replica
// can forward along how to reach that client directly.
func (t *Transport) Peer(id int) (config.Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Listen returns the channel of inbound (message, sender) envelopes.
func (t *Transport) Listen() <-chan Envelope {
	return t.inbox
}

// Close stops the listener goroutine and releases the socket.
func (t *Transport) Close() {
	t.once.Do(func() {
		close(t.done)
		_ = t.conn.Close()
	})
}

// poll blocks receiving datagrams until Close is called, decrypting
// and identifying each by source address before handing it to the
// inbox.
func (t *Transport) poll() {
	buf := make([]byte, t.bufferSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				t.log.Errorf("receive failed: %v", err)
				continue
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		t.handleDatagram(addr, data)
	}
}

func (t *Transport) handleDatagram(addr *net.UDPAddr, data []byte) {
	senderID, peer, ok := t.identify(addr)
	if !ok {
		t.log.Warnf("dropping datagram from unidentifiable address %s", addr)
		return
	}

	plaintext, err := sievecrypto.Decrypt(peer.Key, data)
	if err != nil {
		t.log.Errorf("decrypt from %d (%s) failed: %v", senderID, addr, err)
		return
	}

	var msg types.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		t.log.Errorf("unmarshal from %d failed: %v", senderID, err)
		return
	}

	select {
	case t.inbox <- Envelope{Message: msg, SenderID: senderID}:
	case <-t.done:
	}
}

// identify maps an inbound address to a peer id. Known peers are
// matched by port (the replica convention is one process per host); an
// address on a port above the client threshold that we don't already
// know is admitted as a transient client, using its own source port as
// its id. A port-derived id (rather than a per-transport counter) is
// what lets a replica that has never itself talked to a client still
// address it correctly once told its id by whichever replica relayed
// the client's request (spec.md §4.5.1's forwarding path).
func (t *Transport) identify(addr *net.UDPAddr) (int, config.Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.peers {
		if p.Port == addr.Port {
			return id, p, true
		}
	}

	if addr.Port > config.ClientPortThreshold {
		id := addr.Port
		peer := config.Peer{ID: id, Host: addr.IP.String(), Port: addr.Port, Key: t.clientKey}
		t.peers[id] = peer
		return id, peer, true
	}

	return 0, config.Peer{}, false
}
