// Package node wires every subsystem into a single explicit context,
// replacing the global mutable singletons of the system this repo is
// modeled on. Every request handler closes over this one *Context
// instead of reaching into module-scope state.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/jobcluster/coordinator/internal/collaborator"
	"github.com/jobcluster/coordinator/internal/config"
	"github.com/jobcluster/coordinator/internal/election"
	"github.com/jobcluster/coordinator/internal/forwarder"
	"github.com/jobcluster/coordinator/internal/heartbeat"
	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/render"
	"github.com/jobcluster/coordinator/internal/scheduler"
	"github.com/jobcluster/coordinator/internal/status"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/jobcluster/coordinator/internal/worker"
	"github.com/sirupsen/logrus"
)

const (
	rpcTimeout = 3 * time.Second // shared deadline for heartbeats and election RPCs
)

// Context owns every subsystem on one node: membership, election,
// heartbeat, the leader-only scheduler, the forwarder, the worker
// endpoint, and the status source. It is constructed once at startup and
// passed explicitly into the HTTP router.
type Context struct {
	SelfID int
	Config *config.Config
	Log    *logrus.Entry

	Membership *membership.Table
	Election   *election.Engine
	Heartbeat  *heartbeat.Service
	Scheduler  *scheduler.Scheduler
	Forwarder  *forwarder.Forwarder
	Worker     *worker.Endpoint
	Status     *status.Source

	client *transport.PeerClient
}

// New builds and wires a Context for selfID from cfg. It does not start
// any background loop; call Run for that.
func New(cfg *config.Config, selfID int, log *logrus.Entry) (*Context, error) {
	if _, ok := cfg.NodeByID(selfID); !ok {
		return nil, &config.Error{Reason: fmt.Sprintf("unknown node id: %d", selfID)}
	}

	leaderTimeout := time.Duration(cfg.Network.LeaderTimeout) * time.Second
	electionTimeout := time.Duration(cfg.Network.ElectionTimeout) * time.Second
	heartbeatInterval := time.Duration(cfg.Network.HeartbeatInterval) * time.Second
	taskTimeout := time.Duration(cfg.Tasks.TimeoutSeconds) * time.Second

	client := transport.NewPeerClient()
	table := membership.New(selfID, cfg.PeerAddresses(selfID), leaderTimeout)

	aiClient := collaborator.NewHTTPClient(cfg.API.Endpoint, cfg.API.APIKey, cfg.API.Model, 10*time.Second)
	renderer := render.NewFileRenderer("outputs")

	workerEndpoint := worker.New(selfID, aiClient, log.WithField("component", "worker"))
	sched := scheduler.New(selfID, table, client, renderer, cfg.Tasks.MaxRetries, taskTimeout, log.WithField("component", "scheduler"))

	c := &Context{
		SelfID:     selfID,
		Config:     cfg,
		Log:        log,
		Membership: table,
		Scheduler:  sched,
		Worker:     workerEndpoint,
		client:     client,
	}

	c.Election = election.New(selfID, table, client, rpcTimeout, electionTimeout,
		log.WithField("component", "election"),
		func() { /* onBecomeLeader: scheduler already no-ops by role, nothing further to start */ },
		func() { /* onBecomeFollower: scheduler already gated on IsLeader, nothing further to stop */ },
	)

	c.Heartbeat = heartbeat.New(selfID, table, client, c.Election, heartbeatInterval, rpcTimeout, log.WithField("component", "heartbeat"))
	c.Forwarder = forwarder.New(table, client, c.Election)
	c.Status = &status.Source{NodeID: selfID, Table: table, Election: c.Election, Scheduler: sched, Worker: workerEndpoint}

	return c, nil
}

// Run starts every background loop and blocks until ctx is cancelled.
func (c *Context) Run(ctx context.Context) {
	go c.Scheduler.Run(ctx, c.Election.IsLeader)
	go c.Heartbeat.Run(ctx)
	c.Election.StartElection()
	<-ctx.Done()
}
