// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package access implements the network access control gate, which keeps
// the peer registry in line with an external authorization oracle and
// tears down connections to peers that lose access.
package access

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/core/worker"
	"github.com/porelay/porelay/server/internal/constants"
	"github.com/porelay/porelay/server/internal/glue"
	"github.com/porelay/porelay/server/internal/peers"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.AccessSubsystem,
			Name:      "decisions_total",
			Help:      "Number of peer reviews per verdict",
		},
		[]string{"verdict"},
	)
	collaboratorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.AccessSubsystem,
			Name:      "collaborator_failures_total",
			Help:      "Number of failed calls to the authorization oracle or the connection closer",
		},
		[]string{"collaborator"},
	)
	sweepDuration = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.AccessSubsystem,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of full registry reviews",
		},
	)
)

// Authorizer decides whether a peer may access the network.
type Authorizer interface {
	IsAllowedAccessToNetwork(ctx context.Context, id peers.ID) (bool, error)
}

// ConnectionCloser tears down every connection to a peer.
type ConnectionCloser interface {
	CloseConnectionsTo(ctx context.Context, id peers.ID) error
}

type reviewRequest struct {
	id     peers.ID
	origin string
	result chan bool
}

// Gate reviews peers against the Authorizer.  All reviews started through
// Start, ForceReview and RequestReview run on a single worker goroutine,
// so a peer is never reviewed by two overlapping calls.
type Gate struct {
	worker.Worker

	log      *logging.Logger
	registry *peers.Registry
	auth     Authorizer
	closer   ConnectionCloser

	reviewInterval time.Duration
	oracleTimeout  time.Duration

	forceCh  chan struct{}
	reviewCh chan *reviewRequest
}

// New creates a Gate over the glue's peer registry, closing denied peers'
// connections through the glue's connection table.
func New(g glue.Glue, auth Authorizer) *Gate {
	aCfg := g.Config().AccessControl
	gate := &Gate{
		log:            g.LogBackend().GetLogger("access"),
		registry:       g.Peers(),
		auth:           auth,
		closer:         g.Connections(),
		reviewInterval: time.Duration(aCfg.ReviewInterval) * time.Millisecond,
		oracleTimeout:  time.Duration(aCfg.OracleTimeout) * time.Millisecond,
		forceCh:        make(chan struct{}, 1),
		reviewCh:       make(chan *reviewRequest),
	}
	if gate.oracleTimeout <= 0 {
		gate.oracleTimeout = 10 * time.Second
	}
	if gate.reviewInterval <= 0 {
		gate.reviewInterval = time.Minute
	}
	return gate
}

// ReviewConnection consults the Authorizer about id.  An allowed peer is
// removed from the denied set and registered as active; a denied peer is
// moved to the denied set and its connections are closed.  Collaborator
// failures are logged and the peer is treated as not allowed for this
// pass, leaving the registry untouched when the oracle itself failed.
func (g *Gate) ReviewConnection(ctx context.Context, id peers.ID, origin string) bool {
	octx, cancel := context.WithTimeout(ctx, g.oracleTimeout)
	allowed, err := g.auth.IsAllowedAccessToNetwork(octx, id)
	cancel()
	if err != nil {
		g.log.Warningf("Authorization of peer %v from %s failed: %v", id, origin, err)
		collaboratorFailures.WithLabelValues("authorizer").Inc()
		decisions.WithLabelValues("error").Inc()
		return false
	}

	if allowed {
		if g.registry.RemovePeerFromDenied(id) {
			g.log.Infof("Peer %v from %s is allowed again", id, origin)
		}
		g.registry.Register(id, origin)
		decisions.WithLabelValues("allowed").Inc()
		return true
	}

	if !g.registry.IsDenied(id) {
		g.log.Noticef("Denying peer %v from %s", id, origin)
	}
	g.registry.AddPeerToDenied(id, origin)
	decisions.WithLabelValues("denied").Inc()

	cctx, cancel := context.WithTimeout(ctx, g.oracleTimeout)
	defer cancel()
	if err = g.closer.CloseConnectionsTo(cctx, id); err != nil {
		g.log.Warningf("Closing connections to denied peer %v failed: %v", id, err)
		collaboratorFailures.WithLabelValues("closer").Inc()
	}
	return false
}

// ReviewConnections reviews every active peer, then every denied peer,
// one at a time.  Both passes iterate snapshots taken when each pass
// begins.
func (g *Gate) ReviewConnections(ctx context.Context) {
	timer := prometheus.NewTimer(sweepDuration)
	defer timer.ObserveDuration()

	for e := range g.registry.AllEntries() {
		if ctx.Err() != nil {
			return
		}
		g.ReviewConnection(ctx, e.ID, e.Origin)
	}
	for e := range g.registry.AllDenied() {
		if ctx.Err() != nil {
			return
		}
		g.ReviewConnection(ctx, e.ID, e.Origin)
	}

	active, denied := g.registry.Len()
	g.log.Debugf("Reviewed peers: %d active, %d denied", active, denied)
}

// Start launches the review worker.
func (g *Gate) Start() {
	g.Go(g.worker)
}

// ForceReview schedules a full review as soon as the worker is idle.
func (g *Gate) ForceReview() {
	select {
	case g.forceCh <- struct{}{}:
	default:
	}
}

// RequestReview hands a review of a single peer to the worker, typically
// on a new inbound connection, blocking until the worker accepts it.  The
// verdict is delivered on the returned channel, or false if ctx is done or
// the Gate halts before the worker picks the request up.
func (g *Gate) RequestReview(ctx context.Context, id peers.ID, origin string) <-chan bool {
	req := &reviewRequest{
		id:     id,
		origin: origin,
		result: make(chan bool, 1),
	}
	select {
	case g.reviewCh <- req:
	case <-ctx.Done():
		g.log.Debugf("Review of peer %v from %s abandoned: %v", id, origin, ctx.Err())
		req.result <- false
	case <-g.HaltCh():
		req.result <- false
	}
	return req.result
}

func (g *Gate) worker() {
	ctx := g.Context()
	timer := time.NewTimer(g.reviewInterval)
	defer func() {
		g.log.Debugf("Halting access control worker.")
		timer.Stop()
	}()

	for {
		var timerFired bool
		select {
		case <-g.HaltCh():
			return
		case req := <-g.reviewCh:
			req.result <- g.ReviewConnection(ctx, req.id, req.origin)
			continue
		case <-g.forceCh:
		case <-timer.C:
			timerFired = true
		}
		if !timerFired && !timer.Stop() {
			<-timer.C
		}

		g.ReviewConnections(ctx)
		timer.Reset(g.reviewInterval)
	}
}

func init() {
	prometheus.MustRegister(decisions)
	prometheus.MustRegister(collaboratorFailures)
	prometheus.MustRegister(sweepDuration)
}
