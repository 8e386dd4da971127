// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package tickets implements the ticket redemption engine: persistence of
// acknowledged tickets, verification and win checks on receipt, at most
// once on-chain submission of winning tickets, and the running statistics
// over the ticket set.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/core/chain"
	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/core/retry"
	"github.com/porelay/porelay/core/ticket"
	"github.com/porelay/porelay/core/worker"
	"github.com/porelay/porelay/server/internal/constants"
)

// ErrNotRedeemable is returned by Redeem for a ticket that has not been
// verified as winning yet.
var ErrNotRedeemable = errors.New("tickets: ticket is not awaiting redemption")

// ErrHalted is returned by RedeemAll once the Redeemer is halting.
var ErrHalted = errors.New("tickets: redeemer halted")

var (
	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "redemptions_total",
			Help:      "Number of redemption attempts per outcome",
		},
		[]string{"outcome"},
	)
	submitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "submit_retries_total",
			Help:      "Number of on-chain submissions retried after a transient failure",
		},
	)
	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "rejections_total",
			Help:      "Number of rejected tickets per reason",
		},
		[]string{"reason"},
	)
)

// ChannelSource reads the current state of a payment channel.
type ChannelSource interface {
	Channel(ctx context.Context, id common.Hash) (*chain.Channel, error)
}

// Submitter submits a winning ticket on chain.  Failures are reported with
// the chain package's error values where they apply.
type Submitter interface {
	SubmitTicket(ctx context.Context, ack *ticket.AcknowledgedTicket) error
}

// Connector is the settlement layer the Redeemer talks to.
type Connector interface {
	ChannelSource
	Submitter
}

// Config configures a Redeemer.
type Config struct {
	// AutoRedeem submits winning tickets as soon as they are received.
	AutoRedeem bool

	// SubmitTimeout bounds every call made to the Connector.
	SubmitTimeout time.Duration

	// Retry bounds resubmission after transient connector failures.
	Retry retry.Policy

	// Concurrency is the number of channels redeemed in parallel.
	Concurrency int

	// StatsCheckInterval is the period of the statistics consistency
	// check.  Zero disables it.
	StatsCheckInterval time.Duration
}

// Redeemer drives tickets through their life cycle.
type Redeemer struct {
	worker.Worker

	log   *logging.Logger
	cfg   Config
	store *Store
	conn  Connector
	agg   *Aggregator
	locks *keyedMutex

	// statsMu is held shared by every store write paired with an
	// aggregator update, and exclusively by the consistency check.
	statsMu sync.RWMutex
}

// New creates a Redeemer over store, seeding the statistics from a full
// scan.
func New(store *Store, conn Connector, cfg Config, logBackend *log.Backend) (*Redeemer, error) {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	seed, err := Scan(store)
	if err != nil {
		return nil, err
	}

	r := &Redeemer{
		log:   logBackend.GetLogger("tickets"),
		cfg:   cfg,
		store: store,
		conn:  conn,
		agg:   NewAggregator(seed),
		locks: newKeyedMutex(),
	}
	r.log.Noticef("Loaded ticket database: %v", &seed)
	return r, nil
}

// Start launches the periodic statistics consistency check.
func (r *Redeemer) Start() {
	if r.cfg.StatsCheckInterval > 0 {
		r.Go(r.statsWorker)
	}
}

func (r *Redeemer) statsWorker() {
	ticker := time.NewTicker(r.cfg.StatsCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.HaltCh():
			r.log.Debugf("Terminating gracefully.")
			return
		case <-ticker.C:
		}
		if err := r.CheckStats(); err != nil {
			r.log.Errorf("%v", err)
		}
	}
}

// Stats returns the current statistics snapshot.
func (r *Redeemer) Stats() Stats {
	return r.agg.Snapshot()
}

// CheckStats verifies the running statistics against a full scan of the
// store.
func (r *Redeemer) CheckStats() error {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.agg.Check(r.store)
}

func (r *Redeemer) transition(key ticket.Key, to State, reason string) (State, error) {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()

	prev, err := r.store.Transition(key, to, reason)
	if err != nil {
		return 0, err
	}
	r.agg.Transition(prev.State, to, prev.Amount())
	return prev.State, nil
}

func (r *Redeemer) reject(key ticket.Key, reason error) State {
	r.log.Noticef("Rejecting ticket %v: %v", key, reason)
	rejections.WithLabelValues(rejectionLabel(reason)).Inc()
	if _, err := r.transition(key, StateRejected, reason.Error()); err != nil {
		r.log.Errorf("Failed to record rejection of %v: %v", key, err)
	}
	return StateRejected
}

func (r *Redeemer) channel(ctx context.Context, id common.Hash) (*chain.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout)
	defer cancel()
	return r.conn.Channel(ctx, id)
}

// Receive stores a freshly acknowledged ticket and takes it through
// verification and the win check.  It returns the state the ticket ended
// in.  A ticket whose channel and epoch were already observed is refused
// with ErrDuplicateTicket and nothing is recorded.
func (r *Redeemer) Receive(ctx context.Context, ack *ticket.AcknowledgedTicket) (State, error) {
	key := ack.Key()
	rec := &Record{
		State:  StatePending,
		Ticket: ack.Bytes(),
	}

	r.statsMu.RLock()
	err := r.store.Create(key, rec)
	if err == nil {
		r.agg.Observe(StatePending, ack.Signed.Ticket.Amount)
	}
	r.statsMu.RUnlock()
	if err != nil {
		return StatePending, err
	}

	state, err := r.process(ctx, key)
	if err != nil || state != StateUnredeemed || !r.cfg.AutoRedeem {
		return state, err
	}
	return r.Redeem(ctx, key)
}

// process verifies a pending ticket and evaluates its win check.  If the
// channel cannot be read the ticket stays pending.
func (r *Redeemer) process(ctx context.Context, key ticket.Key) (State, error) {
	unlock := r.locks.lock(key)
	defer unlock()

	rec, err := r.store.Get(key)
	if err != nil {
		return 0, err
	}
	if rec.State != StatePending {
		return rec.State, nil
	}
	ack, err := rec.Acknowledged()
	if err != nil {
		return r.reject(key, err), nil
	}

	ch, err := r.channel(ctx, key.ChannelID())
	switch {
	case errors.Is(err, chain.ErrChannelNotFound):
		return r.reject(key, fmt.Errorf("%w: %v", ticket.ErrUnknownChannel, err)), nil
	case err != nil:
		r.log.Warningf("Failed to read channel for ticket %v, leaving it pending: %v", key, err)
		return StatePending, err
	}

	if err = ack.Check(ch); err != nil {
		return r.reject(key, err), nil
	}

	to := StateLosing
	if ack.IsWinning() {
		to = StateUnredeemed
	}
	if _, err = r.transition(key, to, ""); err != nil {
		return 0, err
	}
	r.log.Debugf("Ticket %v is %v", key, to)
	return to, nil
}

// Redeem submits the winning ticket stored under key.  Redemption of a
// given key is serialized, and a ticket already in a terminal state is
// never submitted again.  Transient connector failures are retried and
// then leave the ticket unredeemed for a later attempt; the returned error
// is the connector's.
func (r *Redeemer) Redeem(ctx context.Context, key ticket.Key) (State, error) {
	unlock := r.locks.lock(key)
	defer unlock()

	rec, err := r.store.Get(key)
	if err != nil {
		return 0, err
	}
	switch {
	case rec.State.IsTerminal():
		r.log.Debugf("Skipping ticket %v, already %v", key, rec.State)
		return rec.State, nil
	case rec.State != StateUnredeemed:
		return rec.State, ErrNotRedeemable
	}

	ack, err := rec.Acknowledged()
	if err != nil {
		return r.reject(key, err), nil
	}

	ch, err := r.channel(ctx, key.ChannelID())
	switch {
	case errors.Is(err, chain.ErrChannelNotFound):
		return r.neglect(key, "channel no longer exists"), nil
	case err != nil:
		r.log.Warningf("Failed to read channel for ticket %v: %v", key, err)
		r.retryLater(key, err)
		return StateUnredeemed, err
	case !ch.IsOpen():
		return r.neglect(key, "channel "+ch.Status.String()), nil
	case key.Epoch().Lt(ch.TicketEpoch):
		return r.neglect(key, "epoch superseded"), nil
	}

	attempts, err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.SubmitTimeout)
		defer cancel()
		return r.conn.SubmitTicket(ctx, ack)
	})
	if attempts > 1 {
		submitRetries.Add(float64(attempts - 1))
	}

	switch {
	case err == nil:
		if _, err = r.transition(key, StateRedeemed, ""); err != nil {
			r.log.Errorf("Ticket %v was redeemed but the store update failed: %v", key, err)
			return StateRedeemed, err
		}
		redemptions.WithLabelValues("redeemed").Inc()
		r.log.Noticef("Redeemed ticket %v worth %v", key, ack.Signed.Ticket.Amount.Dec())
		return StateRedeemed, nil
	case errors.Is(err, chain.ErrAlreadyRedeemed),
		errors.Is(err, chain.ErrInsufficientFunds),
		errors.Is(err, chain.ErrChannelNotOpen):
		redemptions.WithLabelValues("rejected").Inc()
		return r.reject(key, err), nil
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		redemptions.WithLabelValues("retry").Inc()
		r.log.Infof("Submission of ticket %v interrupted, will retry later: %v", key, err)
		r.retryLater(key, err)
		return StateUnredeemed, err
	case retry.IsTransientError(err):
		redemptions.WithLabelValues("retry").Inc()
		r.log.Warningf("Submission of ticket %v failed after %d attempts, will retry later: %v", key, attempts, err)
		r.retryLater(key, err)
		return StateUnredeemed, err
	default:
		redemptions.WithLabelValues("rejected").Inc()
		return r.reject(key, err), nil
	}
}

func (r *Redeemer) neglect(key ticket.Key, reason string) State {
	r.log.Infof("Neglecting ticket %v: %s", key, reason)
	redemptions.WithLabelValues("neglected").Inc()
	if _, err := r.transition(key, StateNeglected, reason); err != nil {
		r.log.Errorf("Failed to record neglect of %v: %v", key, err)
	}
	return StateNeglected
}

func (r *Redeemer) retryLater(key ticket.Key, cause error) {
	if _, err := r.transition(key, StateUnredeemed, "retry later: "+cause.Error()); err != nil {
		r.log.Errorf("Failed to record retry of %v: %v", key, err)
	}
}

// RedeemAll re-verifies pending tickets and redeems every unredeemed
// ticket.  Channels are processed in parallel, the tickets of a channel in
// epoch order.  Per-ticket failures are logged and do not stop the sweep.
// It returns the number of tickets redeemed.
//
// The sweep runs on the Redeemer's worker: Halt cancels it and waits for
// it to return.
func (r *Redeemer) RedeemAll(ctx context.Context) (int, error) {
	type result struct {
		n   int
		err error
	}
	select {
	case <-r.HaltCh():
		return 0, ErrHalted
	default:
	}

	ch := make(chan result, 1)
	r.Go(func() {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(r.Context(), cancel)
		defer stop()

		n, err := r.redeemAll(ctx)
		ch <- result{n, err}
	})
	res := <-ch
	return res.n, res.err
}

// Sweep starts RedeemAll in the background, logging the outcome.
func (r *Redeemer) Sweep() {
	r.Go(func() {
		n, err := r.redeemAll(r.Context())
		switch {
		case err != nil:
			r.log.Warningf("Redemption sweep: %d redeemed before error: %v", n, err)
		default:
			r.log.Noticef("Redemption sweep: %d tickets redeemed", n)
		}
	})
}

func (r *Redeemer) redeemAll(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(StatePending, StateUnredeemed)
	if err != nil {
		return 0, err
	}

	// Keys are sorted, so each channel's tickets are contiguous.
	var groups [][]ticket.Key
	for i, k := range keys {
		if i == 0 || k.ChannelID() != keys[i-1].ChannelID() {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], k)
	}

	var (
		mu       sync.Mutex
		redeemed int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for _, group := range groups {
		g.Go(func() error {
			for _, k := range group {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				state, err := r.process(ctx, k)
				if err != nil || state != StateUnredeemed {
					continue
				}
				if state, _ = r.Redeem(ctx, k); state == StateRedeemed {
					mu.Lock()
					redeemed++
					mu.Unlock()
				}
			}
			return nil
		})
	}
	err = g.Wait()
	return redeemed, err
}

// NeglectChannel marks every pending or unredeemed ticket of a closed
// channel as neglected.  It returns the number of tickets affected.
func (r *Redeemer) NeglectChannel(ctx context.Context, channelID common.Hash) (int, error) {
	keys, err := r.store.Keys(StatePending, StateUnredeemed)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if k.ChannelID() != channelID {
			continue
		}
		if err = ctx.Err(); err != nil {
			return n, err
		}
		unlock := r.locks.lock(k)
		if _, err = r.transition(k, StateNeglected, "channel closed"); err == nil {
			n++
		} else if !errors.Is(err, ErrTerminalState) {
			r.log.Warningf("Failed to neglect ticket %v: %v", k, err)
		}
		unlock()
	}
	if n > 0 {
		r.log.Noticef("Neglected %d tickets of closed channel %v", n, channelID)
	}
	return n, nil
}

func rejectionLabel(err error) string {
	for _, e := range []struct {
		err   error
		label string
	}{
		{ticket.ErrBadSignature, "bad_signature"},
		{ticket.ErrWrongChannel, "wrong_channel"},
		{ticket.ErrStaleEpoch, "stale_epoch"},
		{ticket.ErrInsufficientBalance, "insufficient_balance"},
		{ticket.ErrChallengeMismatch, "challenge_mismatch"},
		{ticket.ErrBadPreImage, "bad_preimage"},
		{ticket.ErrUnknownChannel, "unknown_channel"},
		{chain.ErrAlreadyRedeemed, "already_redeemed"},
		{chain.ErrInsufficientFunds, "insufficient_funds"},
		{chain.ErrChannelNotOpen, "channel_not_open"},
	} {
		if errors.Is(err, e.err) {
			return e.label
		}
	}
	return "other"
}

func init() {
	prometheus.MustRegister(redemptions)
	prometheus.MustRegister(submitRetries)
	prometheus.MustRegister(rejections)
}
