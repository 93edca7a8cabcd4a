// Package forwarder routes a client submission arriving at a non-leader
// node to the current leader (C6). It never queues locally: queuing
// lives only on the leader's scheduler.
package forwarder

import (
	"context"
	"errors"
	"time"

	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/transport"
)

// ErrNoLeader is returned when no leader is currently known, or the
// forward attempt itself fails.
var ErrNoLeader = errors.New("forwarder: no leader available")

const forwardDeadline = 10 * time.Second

// LeaderView is the subset of the election engine the forwarder needs.
type LeaderView interface {
	CurrentLeaderID() (int, bool)
}

// Forwarder proxies /submit_task to the leader.
type Forwarder struct {
	table  *membership.Table
	client *transport.PeerClient
	view   LeaderView
}

// New builds a Forwarder.
func New(table *membership.Table, client *transport.PeerClient, view LeaderView) *Forwarder {
	return &Forwarder{table: table, client: client, view: view}
}

// Forward proxies req to the current leader and returns its response
// verbatim.
func (f *Forwarder) Forward(ctx context.Context, req transport.SubmitTaskRequest) (transport.SubmitTaskResponse, error) {
	leaderID, ok := f.view.CurrentLeaderID()
	if !ok {
		return transport.SubmitTaskResponse{}, ErrNoLeader
	}

	addr, ok := f.table.PeerAddress(leaderID)
	if !ok {
		return transport.SubmitTaskResponse{}, ErrNoLeader
	}

	ctx, cancel := context.WithTimeout(ctx, forwardDeadline)
	defer cancel()

	var resp transport.SubmitTaskResponse
	if _, err := f.client.PostJSON(ctx, addr, "/submit_task", req, &resp); err != nil {
		return transport.SubmitTaskResponse{}, ErrNoLeader
	}
	return resp, nil
}
