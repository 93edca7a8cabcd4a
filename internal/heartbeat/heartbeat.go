// Package heartbeat implements peer-to-peer liveness pings (C2): an emit
// loop that pings every other peer, and a leader-liveness watcher that
// asks the election engine to start a new election when the current
// leader (checked explicitly, not via an undefined sender id) looks dead.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/sirupsen/logrus"
)

// LeaderView is the subset of the election engine the watcher needs:
// who the current leader is, and how to kick off a new election.
type LeaderView interface {
	CurrentLeaderID() (int, bool)
	StartElection()
}

const watcherInterval = 2 * time.Second

// Service runs the emit loop and the leader-liveness watcher.
type Service struct {
	selfID int
	table  *membership.Table
	client *transport.PeerClient
	view   LeaderView
	log    *logrus.Entry

	interval    time.Duration
	rpcTimeout  time.Duration
	running     int32
}

// New builds a heartbeat service.
func New(selfID int, table *membership.Table, client *transport.PeerClient, view LeaderView, interval, rpcTimeout time.Duration, log *logrus.Entry) *Service {
	return &Service{
		selfID:     selfID,
		table:      table,
		client:     client,
		view:       view,
		log:        log,
		interval:   interval,
		rpcTimeout: rpcTimeout,
	}
}

// Run starts the emit loop and the leader watcher. It blocks until ctx is
// cancelled; cancelling ctx is what stops both loops. The running flag is
// set while Run is active and cleared when it returns.
func (s *Service) Run(ctx context.Context) {
	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	go s.emitLoop(ctx)
	s.watchLoop(ctx)
}

func (s *Service) emitLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emitOnce()
		}
	}
}

func (s *Service) emitOnce() {
	for _, peerID := range s.table.AllPeersExceptSelf() {
		addr, ok := s.table.PeerAddress(peerID)
		if !ok {
			continue
		}
		go s.sendHeartbeat(peerID, addr)
	}
}

func (s *Service) sendHeartbeat(peerID int, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.rpcTimeout)
	defer cancel()

	req := transport.HeartbeatRequest{NodeID: s.selfID, Timestamp: float64(time.Now().Unix())}
	var resp transport.AckResponse
	if _, err := s.client.PostJSON(ctx, addr, "/heartbeat", req, &resp); err != nil {
		// A send failure is logged at debug and ignored: liveness is
		// inferred from successful inbound heartbeats, not outbound
		// delivery.
		if s.log != nil {
			s.log.WithField("peer", peerID).WithError(err).Debug("heartbeat: send failed")
		}
	}
}

// Observe records an inbound heartbeat or any other inbound message from
// a peer.
func (s *Service) Observe(peerID int) {
	s.table.RecordSeen(peerID)
}

func (s *Service) watchLoop(ctx context.Context) {
	ticker := time.NewTicker(watcherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkLeader()
		}
	}
}

func (s *Service) checkLeader() {
	leaderID, ok := s.view.CurrentLeaderID()
	if !ok || leaderID == s.selfID {
		return
	}
	if !s.table.IsAlive(leaderID) {
		if s.log != nil {
			s.log.WithField("leader", leaderID).Warn("heartbeat: leader appears dead, starting election")
		}
		s.view.StartElection()
	}
}
