// Command node runs one coordinator-cluster node: it loads the cluster
// configuration, wires every subsystem into a node.Context, serves the
// HTTP peer/client surface, and runs until terminated.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobcluster/coordinator/internal/config"
	"github.com/jobcluster/coordinator/internal/node"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	exitOK             = 0
	exitBadConfig      = 1
	exitUnknownNodeID  = 2
	exitServerFailed   = 3
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		nodeID     int
	)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	exitCode := exitOK

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run one node of the job-cluster coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				log.WithError(err).Error("failed to load configuration")
				exitCode = exitBadConfig
				return err
			}

			entry := log.WithField("node_id", nodeID)

			nc, err := node.New(cfg, nodeID, entry)
			if err != nil {
				entry.WithError(err).Error("failed to construct node context")
				exitCode = exitUnknownNodeID
				return err
			}

			self, _ := cfg.NodeByID(nodeID)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go nc.Run(ctx)

			srv := &http.Server{
				Addr:    self.Address(),
				Handler: nc.Router(),
			}

			serveErr := make(chan error, 1)
			go func() {
				entry.WithField("addr", self.Address()).Info("node: listening")
				serveErr <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				entry.Info("node: shutdown signal received")
			case err := <-serveErr:
				if err != nil && err != http.ErrServerClosed {
					entry.WithError(err).Error("node: http server failed")
					exitCode = exitServerFailed
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				entry.WithError(err).Warn("node: graceful shutdown failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the cluster configuration file")
	cmd.Flags().IntVar(&nodeID, "node-id", -1, "this node's id, must match an entry in the config's nodes section")
	_ = cmd.MarkFlagRequired("node-id")

	if err := cmd.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitBadConfig
		}
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode
}
