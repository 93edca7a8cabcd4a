// Package status builds the read-only snapshot served by GET /status
// (C8): node id, role, known leader, alive peers, and queue counters.
package status

import (
	"sort"

	"github.com/jobcluster/coordinator/internal/election"
	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/scheduler"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/jobcluster/coordinator/internal/worker"
)

// Source is every subsystem the status snapshot reads from. Scheduler is
// always present — a node that has never been leader reports zero-valued
// queue counts. A demoted leader's queues are not cleared, so it keeps
// reporting their sizes.
type Source struct {
	NodeID    int
	Table     *membership.Table
	Election  *election.Engine
	Scheduler *scheduler.Scheduler
	Worker    *worker.Endpoint
}

// Snapshot builds the current StatusResponse.
func (s *Source) Snapshot() transport.StatusResponse {
	var leaderID *int
	if id, ok := s.Election.CurrentLeaderID(); ok {
		leaderID = &id
	}

	aliveSet := s.Table.Alive()
	alive := make([]int, 0, len(aliveSet))
	for id := range aliveSet {
		alive = append(alive, id)
	}
	sort.Ints(alive)

	return transport.StatusResponse{
		NodeID:         s.NodeID,
		Role:           string(s.Election.Role()),
		LeaderID:       leaderID,
		AlivePeers:     alive,
		TasksProcessed: s.Worker.TasksProcessed(),
		Queue:          s.Scheduler.Snapshot(),
	}
}
