// Package config is the Bootstrap/config component of spec.md §2: it
// loads cluster topology, identity, and the per-peer key table. It is
// deliberately thin — spec.md §1 treats the configuration loader's
// external source as an out-of-scope collaborator; this package is
// the in-scope consumer that turns environment variables into the
// typed topology the replica state machine needs.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/viper"
)

// ClientPIDBase is the threshold at or above which a pid is a client
// rather than a replica (spec.md §6).
const ClientPIDBase = 1000

// ReplicaPortBase is the base TCP/UDP port a replica with id p binds
// to: ReplicaPortBase + p.
const ReplicaPortBase = 8000

// ClientPortThreshold is the inbound-port classification threshold
// from spec.md §6: a datagram arriving from a source port above this
// value is treated as coming from a client, never a replica. Clients
// are expected to bind a port above this value.
const ClientPortThreshold = 10000

// Peer describes how to reach and talk securely to one other process
// in the cluster (a replica, or a known client).
type Peer struct {
	ID   int
	Host string
	Port int
	Key  string
}

// Cluster is the topology, identity and key table a single process
// needs to join the Sieve protocol.
type Cluster struct {
	SelfID     int
	SelfPort   int
	N          int
	F          int
	BufferSize int
	Faulty     bool
	Peers      map[int]Peer

	// ClientKey is the single shared secret used for every
	// client<->replica exchange. Clients are not part of the
	// replica-to-replica trust assumption that KEYn secures, but the
	// transport still needs a symmetric key to admit a client's
	// datagrams (spec.md §4.1's "transient clients"); this mirrors
	// original_source's gui/client_config.py convention of every
	// participant holding one well-known key for the client role.
	ClientKey string
}

// Address returns host:port for peer id, suitable for net.ResolveUDPAddr.
func (p Peer) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// F computes the Byzantine fault bound floor((n-1)/3).
func F(n int) int {
	return (n - 1) / 3
}

// Load reads N_PROCESSES, BUFFER_SIZE, PROCESS_ID, FAULTY and KEYn
// (n != PROCESS_ID, n in 1..N_PROCESSES) from the environment via
// viper's automatic env binding, and builds the host/port/key table:
// hostnames are "process<id>", replica ports are 8000+id.
func Load() (*Cluster, error) {
	v := viper.New()
	v.AutomaticEnv()

	n := v.GetInt("N_PROCESSES")
	if n <= 0 {
		return nil, fmt.Errorf("sieve/config: N_PROCESSES must be positive, got %d", n)
	}
	self := v.GetInt("PROCESS_ID")
	if self <= 0 || self > n {
		return nil, fmt.Errorf("sieve/config: PROCESS_ID %d out of range [1,%d]", self, n)
	}
	bufferSize := v.GetInt("BUFFER_SIZE")
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	peers := make(map[int]Peer, n)
	for id := 1; id <= n; id++ {
		if id == self {
			continue
		}
		key := v.GetString("KEY" + strconv.Itoa(id))
		if key == "" {
			return nil, fmt.Errorf("sieve/config: missing KEY%d", id)
		}
		peers[id] = Peer{
			ID:   id,
			Host: fmt.Sprintf("process%d", id),
			Port: ReplicaPortBase + id,
			Key:  key,
		}
	}

	clientKey := v.GetString("CLIENT_KEY")
	if clientKey == "" {
		clientKey = defaultClientKey
	}

	return &Cluster{
		SelfID:     self,
		SelfPort:   ReplicaPortBase + self,
		N:          n,
		F:          F(n),
		BufferSize: bufferSize,
		Faulty:     v.GetInt("FAULTY") != 0,
		Peers:      peers,
		ClientKey:  clientKey,
	}, nil
}

// defaultClientKey is used when CLIENT_KEY is not set in the
// environment, so a cluster still boots with a working (if
// non-confidential) client channel.
const defaultClientKey = "sieve-default-client-key"

// Local builds n Cluster configurations wired to each other over
// loopback, for use by property tests and in-process demos that would
// otherwise need n real OS processes (as original_source/src/test.py
// spins up). Every unordered pair of replicas shares one random key.
// basePort must stay below ClientPortThreshold, so replica datagrams
// are never misclassified as client traffic by the transport.
func Local(n int, basePort int) ([]*Cluster, error) {
	clientKeyBuf := make([]byte, 16)
	if _, err := rand.Read(clientKeyBuf); err != nil {
		return nil, err
	}
	clientKey := hex.EncodeToString(clientKeyBuf)

	keys := make(map[[2]int]string)
	keyFor := func(a, b int) (string, error) {
		if a > b {
			a, b = b, a
		}
		pair := [2]int{a, b}
		if k, ok := keys[pair]; ok {
			return k, nil
		}
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		k := hex.EncodeToString(buf)
		keys[pair] = k
		return k, nil
	}

	clusters := make([]*Cluster, n)
	for i := 1; i <= n; i++ {
		peers := make(map[int]Peer, n-1)
		for j := 1; j <= n; j++ {
			if i == j {
				continue
			}
			key, err := keyFor(i, j)
			if err != nil {
				return nil, err
			}
			peers[j] = Peer{ID: j, Host: "127.0.0.1", Port: basePort + j, Key: key}
		}
		clusters[i-1] = &Cluster{
			SelfID:     i,
			SelfPort:   basePort + i,
			N:          n,
			F:          F(n),
			BufferSize: 65536,
			Faulty:     false,
			Peers:      peers,
			ClientKey:  clientKey,
		}
	}
	return clusters, nil
}
