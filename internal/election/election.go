// Package election implements the Bully leader-election state machine
// (C3): a node defers to any live higher-id peer and otherwise wins.
// Adapted from a raw-TCP Coordinator onto the HTTP+JSON peer surface, and
// split so "received this RPC" and "received OK" are distinct signals —
// the election RPC's own reply is a bare ack, the OK itself arrives as a
// separate, asynchronous callback, matching the external interface's
// distinct /election and /ok rows.
package election

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/sirupsen/logrus"
)

// Role is a node's current place in the state machine.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

const noLeader = -1

// Engine runs the Bully algorithm for one node.
type Engine struct {
	selfID int
	table  *membership.Table
	client *transport.PeerClient
	log    *logrus.Entry

	electionRPCTimeout time.Duration
	electionTimeout    time.Duration

	mu                  sync.Mutex
	role                Role
	currentLeaderID     int
	electionInProgress  bool
	electionID          string
	okCh                chan int

	onBecomeLeader   func()
	onBecomeFollower func()
}

// New builds an election engine. onBecomeLeader is called synchronously,
// under no lock, after this node wins an election; onBecomeFollower is
// called the same way after every announcement naming another leader,
// whether or not the role changed. The node wiring uses them to
// start/stop the scheduler (C5).
func New(selfID int, table *membership.Table, client *transport.PeerClient, electionRPCTimeout, electionTimeout time.Duration, log *logrus.Entry, onBecomeLeader, onBecomeFollower func()) *Engine {
	return &Engine{
		selfID:             selfID,
		table:              table,
		client:             client,
		log:                log,
		electionRPCTimeout: electionRPCTimeout,
		electionTimeout:    electionTimeout,
		role:               RoleFollower,
		currentLeaderID:    noLeader,
		onBecomeLeader:     onBecomeLeader,
		onBecomeFollower:   onBecomeFollower,
	}
}

// Role returns the current role.
func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// IsLeader reports whether this node currently believes itself leader.
func (e *Engine) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == RoleLeader
}

// CurrentLeaderID returns the known leader id, if any.
func (e *Engine) CurrentLeaderID() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentLeaderID == noLeader {
		return 0, false
	}
	return e.currentLeaderID, true
}

// StartElection begins a new election. Idempotent while one is already
// in progress (I5: at most one election in progress on a node at a time).
func (e *Engine) StartElection() {
	e.mu.Lock()
	if e.electionInProgress {
		e.mu.Unlock()
		return
	}
	e.electionInProgress = true
	e.electionID = uuid.NewString()
	e.role = RoleCandidate
	electionID := e.electionID
	okCh := make(chan int, len(e.table.AllPeersExceptSelf())+1)
	e.okCh = okCh
	e.mu.Unlock()

	go e.runElection(electionID, okCh)
}

func (e *Engine) runElection(electionID string, okCh chan int) {
	defer func() {
		e.mu.Lock()
		e.electionInProgress = false
		e.mu.Unlock()
	}()

	higher := e.table.HigherPeers()
	if len(higher) == 0 {
		e.becomeLeader()
		return
	}

	for _, peerID := range higher {
		addr, ok := e.table.PeerAddress(peerID)
		if !ok {
			continue
		}
		go e.sendElectionRPC(peerID, addr, electionID)
	}

	timer := time.NewTimer(e.electionTimeout)
	defer timer.Stop()

	select {
	case <-okCh:
		if e.log != nil {
			e.log.WithField("election_id", electionID).Debug("election: received OK, waiting for coordinator announcement")
		}
		// Passive: we don't time this out ourselves; the heartbeat
		// watcher will restart an election if no announcement ever
		// arrives.
	case <-timer.C:
		e.becomeLeader()
	}
}

func (e *Engine) sendElectionRPC(peerID int, addr, electionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.electionRPCTimeout)
	defer cancel()

	req := transport.ElectionRequest{NodeID: e.selfID, ElectionID: electionID}
	var resp transport.AckResponse
	if _, err := e.client.PostJSON(ctx, addr, "/election", req, &resp); err != nil {
		if e.log != nil {
			e.log.WithField("peer", peerID).WithError(err).Debug("election: peer unreachable")
		}
		return
	}
}

// becomeLeader transitions to leader, broadcasts the announcement, and
// activates the scheduler.
func (e *Engine) becomeLeader() {
	e.mu.Lock()
	e.role = RoleLeader
	e.currentLeaderID = e.selfID
	e.mu.Unlock()

	if e.log != nil {
		e.log.Info("election: became leader")
	}

	e.broadcastLeadership()

	if e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
}

func (e *Engine) broadcastLeadership() {
	for _, peerID := range e.table.AllPeersExceptSelf() {
		addr, ok := e.table.PeerAddress(peerID)
		if !ok {
			continue
		}
		go func(peerID int, addr string) {
			ctx, cancel := context.WithTimeout(context.Background(), e.electionRPCTimeout)
			defer cancel()
			req := transport.LeaderRequest{LeaderID: e.selfID}
			var resp transport.AckResponse
			if _, err := e.client.PostJSON(ctx, addr, "/leader", req, &resp); err != nil && e.log != nil {
				e.log.WithField("peer", peerID).WithError(err).Debug("election: leader announcement failed")
			}
		}(peerID, addr)
	}
}

// OnElectionMessage handles an inbound /election RPC. Per the algorithm,
// any sender of this message must have a lower id than ours (a higher
// peer would simply declare itself) so we always reply OK and start our
// own election.
func (e *Engine) OnElectionMessage(senderID int, _ string) {
	addr, ok := e.table.PeerAddress(senderID)
	if ok {
		go e.sendOK(senderID, addr)
	}
	e.StartElection()
}

func (e *Engine) sendOK(peerID int, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.electionRPCTimeout)
	defer cancel()
	req := transport.OKRequest{NodeID: e.selfID}
	var resp transport.AckResponse
	if _, err := e.client.PostJSON(ctx, addr, "/ok", req, &resp); err != nil && e.log != nil {
		e.log.WithField("peer", peerID).WithError(err).Debug("election: failed to send OK")
	}
}

// OnOKMessage handles an inbound /ok RPC. OK replies that arrive after
// the election already concluded are ignored by the non-blocking send.
func (e *Engine) OnOKMessage(senderID int) {
	e.mu.Lock()
	ch := e.okCh
	e.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- senderID:
	default:
	}
}

// OnLeaderAnnouncement handles an inbound /leader RPC: record the new
// leader and demote to follower, or take the leader role when the
// announcement names this node. Receiving the same announcement twice is
// idempotent.
func (e *Engine) OnLeaderAnnouncement(leaderID int) {
	e.mu.Lock()
	wasLeader := e.role == RoleLeader
	if leaderID == e.selfID {
		e.role = RoleLeader
	} else {
		e.role = RoleFollower
	}
	e.currentLeaderID = leaderID
	e.mu.Unlock()

	if leaderID == e.selfID {
		return
	}

	if e.log != nil {
		e.log.WithField("leader", leaderID).Debug("election: leader announcement received")
	}

	// Ensure the scheduler is stopped regardless of whether we were
	// already a follower — idempotent on repeat announcements.
	if wasLeader && e.log != nil {
		e.log.WithField("new_leader", leaderID).Info("election: stepping down, new leader announced")
	}
	if e.onBecomeFollower != nil {
		e.onBecomeFollower()
	}
}
