// Package membership tracks the cluster's static peer table and a
// self-garbage-collecting liveness view over it. It answers "is peer X
// alive?" for the election engine, the heartbeat watcher, and the
// scheduler, and nothing else.
package membership

import (
	"sync"
	"time"
)

// Table is the process-wide static membership plus the mutable liveness
// view derived from inbound heartbeats and messages. Reads and writes are
// concurrent-safe; staleness is swept lazily on read.
type Table struct {
	selfID int
	addrs  map[int]string // peer id -> address, self optional, never mutated after construction

	mu       sync.RWMutex
	lastSeen map[int]time.Time

	leaderTimeout time.Duration
}

// New builds a membership table for selfID given the other peers' id ->
// address map and the staleness window after which a peer is declared
// dead. addrs need not include selfID itself.
func New(selfID int, addrs map[int]string, leaderTimeout time.Duration) *Table {
	t := &Table{
		selfID:        selfID,
		addrs:         addrs,
		lastSeen:      make(map[int]time.Time, len(addrs)),
		leaderTimeout: leaderTimeout,
	}
	t.lastSeen[selfID] = time.Now()
	return t
}

// RecordSeen marks peerID as freshly contacted. Idempotent, monotonic:
// repeated calls only ever move last_seen forward.
func (t *Table) RecordSeen(peerID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[peerID] = time.Now()
}

// Alive sweeps out entries older than leaderTimeout and returns the
// surviving peer ids. Self is always included.
func (t *Table) Alive() map[int]struct{} {
	t.mu.Lock()
	now := time.Now()
	for id, seen := range t.lastSeen {
		if id == t.selfID {
			continue
		}
		if now.Sub(seen) > t.leaderTimeout {
			delete(t.lastSeen, id)
		}
	}
	alive := make(map[int]struct{}, len(t.lastSeen))
	for id := range t.lastSeen {
		alive[id] = struct{}{}
	}
	t.mu.Unlock()
	alive[t.selfID] = struct{}{}
	return alive
}

// IsAlive reports whether peerID has been heard from within leaderTimeout.
// Self is always alive.
func (t *Table) IsAlive(peerID int) bool {
	if peerID == t.selfID {
		return true
	}
	t.mu.RLock()
	seen, ok := t.lastSeen[peerID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return time.Since(seen) <= t.leaderTimeout
}

// HigherPeers returns every peer id strictly greater than self, regardless
// of liveness: the Bully algorithm tests reachability by attempting the
// election RPC, not by consulting this table.
func (t *Table) HigherPeers() []int {
	var higher []int
	for id := range t.addrs {
		if id > t.selfID {
			higher = append(higher, id)
		}
	}
	return higher
}

// AllPeersExceptSelf returns every known id other than self.
func (t *Table) AllPeersExceptSelf() []int {
	var peers []int
	for id := range t.addrs {
		if id != t.selfID {
			peers = append(peers, id)
		}
	}
	return peers
}

// PeerAddress resolves a peer id to its configured address.
func (t *Table) PeerAddress(id int) (string, bool) {
	addr, ok := t.addrs[id]
	return addr, ok
}

// SelfID returns this node's id.
func (t *Table) SelfID() int {
	return t.selfID
}
