// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/porelay/porelay/common"
	"github.com/porelay/porelay/server"
	"github.com/porelay/porelay/server/config"
)

// Config holds the command line configuration
type Config struct {
	ConfigFile string
	GenOnly    bool
}

// newRootCommand creates the root cobra command
func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "server",
		Short: "porelay proof-of-relay node",
		Long: `The porelay server is a relay node that is paid for forwarding traffic
with probabilistic payment tickets.

Key features:
• Verifies signed tickets and their proof-of-relay challenges
• Tracks every ticket through its redemption life cycle in a local database
• Submits winning tickets for settlement, at most once each
• Keeps network access in line with an external authorization oracle,
  closing connections to peers that lose access
• Serves prometheus metrics and a live log stream

The server is designed to run as a long-lived daemon process.`,
		Example: `  # Start server with default configuration
  server

  # Start server with specific config file
  server -f /etc/porelay/porelay.toml

  # Generate the identity key only and exit
  server -f /etc/porelay/porelay.toml --generate-only

  # Show ticket statistics of a stopped node
  server tickets -f /etc/porelay/porelay.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfg.ConfigFile, "config", "f", "porelay.toml",
		"path to the server configuration file (TOML format)")
	cmd.Flags().BoolVarP(&cfg.GenOnly, "generate-only", "g", false,
		"generate the identity key and exit without starting server")

	cmd.AddCommand(newTicketsCommand(&cfg))
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runServer(cfg Config) error {
	// Ensure that a sane number of OS threads is allowed.
	if os.Getenv("GOMAXPROCS") == "" {
		// But only if the user isn't trying to override it.
		nProcs := runtime.GOMAXPROCS(0)
		nCPU := runtime.NumCPU()
		if nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}

	serverCfg, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", cfg.ConfigFile, err)
	}
	if cfg.GenOnly {
		serverCfg.Debug.GenerateOnly = true
	}

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)

	// Start up the server.
	svr, err := server.New(serverCfg)
	if err != nil {
		if errors.Is(err, server.ErrGenerateOnly) {
			return nil
		}
		return fmt.Errorf("failed to spawn server instance: %v", err)
	}
	defer svr.Shutdown()

	// Halt the server gracefully on SIGINT/SIGTERM.
	go func() {
		<-haltCh
		svr.Shutdown()
	}()

	// Rotate server logs upon SIGHUP, and review peers while at it.
	go func() {
		for range rotateCh {
			svr.RotateLog()
			svr.ReviewPeers()
		}
	}()

	// Settle what the previous run left unredeemed.
	svr.StartRedemptionSweep()

	// Wait for the server to explode or be terminated.
	svr.Wait()
	return nil
}
