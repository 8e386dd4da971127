// SPDX-FileCopyrightText: Copyright (C) 2019  David Stainton.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package server provides the porelay node.
package server

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/core/retry"
	"github.com/porelay/porelay/core/ticket"
	"github.com/porelay/porelay/core/utils"
	"github.com/porelay/porelay/server/config"
	"github.com/porelay/porelay/server/internal/access"
	"github.com/porelay/porelay/server/internal/conns"
	"github.com/porelay/porelay/server/internal/constants"
	"github.com/porelay/porelay/server/internal/glue"
	"github.com/porelay/porelay/server/internal/instrument"
	"github.com/porelay/porelay/server/internal/ledger"
	"github.com/porelay/porelay/server/internal/peers"
	"github.com/porelay/porelay/server/internal/profiling"
	"github.com/porelay/porelay/server/internal/tickets"
)

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the `GenerateOnly` debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// Server is a porelay node instance.
type Server struct {
	cfg *config.Config

	identityKey *ecdsa.PrivateKey
	address     common.Address

	logBackend *log.Backend
	log        *logging.Logger

	ticketStore *tickets.Store
	ledger      *ledger.Ledger
	redeemer    *tickets.Redeemer
	registry    *peers.Registry
	gate        *access.Gate
	conns       *conns.Table
	metrics     *instrument.Listener

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

var _ glue.Glue = (*serverGlue)(nil)

type serverGlue struct {
	s *Server
}

func (g *serverGlue) Config() *config.Config {
	return g.s.cfg
}

func (g *serverGlue) LogBackend() *log.Backend {
	return g.s.logBackend
}

func (g *serverGlue) Peers() *peers.Registry {
	return g.s.registry
}

func (g *serverGlue) Access() glue.Access {
	return g.s.gate
}

func (g *serverGlue) Connections() glue.Connections {
	return g.s.conns
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	if err := utils.EnsureDir(s.cfg.Server.DataDir, dirMode); err != nil {
		return fmt.Errorf("server: DataDir: %v", err)
	}
	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	stream := log.NewStream(s.cfg.Logging.StreamBufferSize)
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable, stream)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

func (s *Server) initIdentity() error {
	f := filepath.Join(s.cfg.Server.DataDir, constants.IdentityKeyFile)
	exists, err := utils.Exists(f)
	if err != nil {
		return err
	}
	if exists {
		if s.identityKey, err = crypto.LoadECDSA(f); err != nil {
			return fmt.Errorf("server: failed to load identity key: %v", err)
		}
	} else {
		if s.identityKey, err = crypto.GenerateKey(); err != nil {
			return err
		}
		if err = crypto.SaveECDSA(f, s.identityKey); err != nil {
			return fmt.Errorf("server: failed to save identity key: %v", err)
		}
		s.log.Noticef("Generated new identity key: %v", f)
	}
	s.address = crypto.PubkeyToAddress(s.identityKey.PublicKey)
	return nil
}

func (s *Server) initLedger() error {
	s.ledger = ledger.New(s.logBackend)
	for _, c := range s.cfg.Ledger.Channels {
		src, dst, err := c.Amounts()
		if err != nil {
			return err
		}
		s.ledger.OpenChannel(common.HexToAddress(c.Source), common.HexToAddress(c.Destination), src, dst)
	}
	for _, st := range s.cfg.Ledger.Stakes {
		v, err := st.Value()
		if err != nil {
			return err
		}
		s.ledger.SetStake(common.HexToAddress(st.Address), v)
	}
	return nil
}

func (s *Server) newAuthorizer() (access.Authorizer, error) {
	aCfg := s.cfg.AccessControl
	if aCfg.Disable {
		s.log.Warning("Access control is disabled, every peer is allowed.")
		return access.AllowAll{}, nil
	}
	switch aCfg.Authorizer {
	case config.AuthorizerStake:
		minStake, err := uint256.FromDecimal(aCfg.MinStake)
		if err != nil {
			return nil, err
		}
		return &access.StakeAuthorizer{Source: s.ledger, MinStake: minStake}, nil
	default:
		return access.NewAllowList(aCfg.AllowList)
	}
}

func (s *Server) onChannelClosed(id common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.Tickets.SubmitTimeout)*time.Millisecond)
	defer cancel()

	if _, err := s.redeemer.NeglectChannel(ctx, id); err != nil {
		s.log.Warningf("Failed to neglect tickets of closed channel %v: %v", id, err)
	}
}

// IdentityAddress returns the on-chain address of the node.
func (s *Server) IdentityAddress() common.Address {
	return s.address
}

// ReceiveTicket hands an acknowledged ticket to the redemption engine.
func (s *Server) ReceiveTicket(ctx context.Context, ack *ticket.AcknowledgedTicket) (tickets.State, error) {
	return s.redeemer.Receive(ctx, ack)
}

// RedeemAllTickets submits every unredeemed winning ticket and returns the
// number redeemed.
func (s *Server) RedeemAllTickets(ctx context.Context) (int, error) {
	n, err := s.redeemer.RedeemAll(ctx)
	if err != nil {
		s.log.Warningf("Redeeming all tickets: %d redeemed before error: %v", n, err)
		return n, err
	}
	s.log.Noticef("Redeemed %d tickets", n)
	return n, nil
}

// StartRedemptionSweep redeems every unredeemed winning ticket in the
// background.  Shutdown cancels the sweep and waits for it.
func (s *Server) StartRedemptionSweep() {
	s.redeemer.Sweep()
}

// TicketStats returns the ticket statistics snapshot.
func (s *Server) TicketStats() tickets.Stats {
	return s.redeemer.Stats()
}

// AcceptConnection tracks an inbound connection from a peer and reports
// whether the peer is allowed to stay connected.
func (s *Server) AcceptConnection(ctx context.Context, id peers.ID, origin string, c io.Closer) bool {
	return s.conns.Accept(ctx, id, origin, c)
}

// ReviewPeers schedules an immediate review of every known peer.
func (s *Server) ReviewPeers() {
	s.gate.ForceReview()
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatalErrCh <- fmt.Errorf("failed to rotate log file, shutting down server")
	}
	s.log.Notice("Log rotated.")
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	if s.metrics != nil {
		s.metrics.Halt()
		s.metrics = nil
	}
	if s.gate != nil {
		s.gate.Halt()
	}
	if s.conns != nil {
		s.conns.Halt()
	}
	if s.redeemer != nil {
		s.redeemer.Halt()
	}
	if s.ticketStore != nil {
		if err := s.ticketStore.Close(); err != nil {
			s.log.Warningf("Failed to close ticket database: %v", err)
		}
		s.ticketStore = nil
	}

	close(s.fatalErrCh)

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error),
		haltedCh:   make(chan interface{}),
	}
	g := &serverGlue{s: s}

	// Do the early initialization and bring up logging.
	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Debug logging is enabled, peer identifiers and ticket details are logged.")
	}

	if err := s.initIdentity(); err != nil {
		return nil, err
	}
	s.log.Noticef("Node %s account address is: %v", s.cfg.Server.Identifier, s.address)

	if s.cfg.Debug.GenerateOnly {
		return nil, ErrGenerateOnly
	}

	if err := profiling.Start(s.log, s.cfg.Server.Identifier); err != nil {
		s.log.Warningf("Profiling not started: %v", err)
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	var err error
	if s.ticketStore, err = tickets.Open(filepath.Join(s.cfg.Server.DataDir, constants.TicketsDatabase)); err != nil {
		s.log.Errorf("Failed to open ticket database: %v", err)
		return nil, err
	}
	if err = s.initLedger(); err != nil {
		return nil, err
	}

	tCfg := s.cfg.Tickets
	if s.redeemer, err = tickets.New(s.ticketStore, s.ledger, tickets.Config{
		AutoRedeem:    tCfg.AutoRedeem,
		SubmitTimeout: time.Duration(tCfg.SubmitTimeout) * time.Millisecond,
		Retry: retry.Policy{
			MaxAttempts: tCfg.MaxSubmitAttempts,
			BaseDelay:   time.Duration(tCfg.SubmitBaseDelay) * time.Millisecond,
			MaxDelay:    time.Duration(tCfg.SubmitMaxDelay) * time.Millisecond,
			Jitter:      retry.DefaultJitter,
		},
		Concurrency:        tCfg.RedeemConcurrency,
		StatsCheckInterval: time.Duration(tCfg.StatsCheckInterval) * time.Millisecond,
	}, s.logBackend); err != nil {
		s.log.Errorf("Failed to initialize ticket redemption: %v", err)
		return nil, err
	}
	s.ledger.SetCloseHandler(s.onChannelClosed)
	s.redeemer.Start()

	s.registry = peers.NewRegistry()
	s.conns = conns.New(g)
	auth, err := s.newAuthorizer()
	if err != nil {
		s.log.Errorf("Failed to initialize access control: %v", err)
		return nil, err
	}
	s.gate = access.New(g, auth)
	s.gate.Start()

	if addr := s.cfg.Server.MetricsAddress; addr != "" {
		if s.metrics, err = instrument.New(addr, s.logBackend); err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
	}

	isOk = true
	return s, nil
}
