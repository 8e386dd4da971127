// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ledger implements an in-process settlement ledger holding
// payment channels and stakes.  It verifies and settles tickets with the
// same checks an on-chain verifier applies, and is used for development
// networks and tests in place of a blockchain connector.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/core/chain"
	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/core/ticket"
	"github.com/porelay/porelay/server/internal/constants"
)

// ErrNotWinning is returned when a submitted ticket fails the win check.
var ErrNotWinning = errors.New("ledger: ticket did not win")

var settledTickets = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: constants.Namespace,
		Subsystem: constants.LedgerSubsystem,
		Name:      "settled_tickets_total",
		Help:      "Number of ticket submissions per result",
	},
	[]string{"result"},
)

// Ledger is an in-memory settlement ledger.
type Ledger struct {
	sync.RWMutex

	log *logging.Logger

	channels map[common.Hash]*chain.Channel
	redeemed map[ticket.Key]struct{}
	stakes   map[common.Address]*uint256.Int

	onClose func(common.Hash)
}

// New creates an empty ledger.
func New(logBackend *log.Backend) *Ledger {
	return &Ledger{
		log:      logBackend.GetLogger("ledger"),
		channels: make(map[common.Hash]*chain.Channel),
		redeemed: make(map[ticket.Key]struct{}),
		stakes:   make(map[common.Address]*uint256.Int),
	}
}

// SetCloseHandler registers fn to be called after a channel is closed.
func (l *Ledger) SetCloseHandler(fn func(common.Hash)) {
	l.Lock()
	defer l.Unlock()
	l.onClose = fn
}

// OpenChannel opens, or tops up, the channel from source to destination.
func (l *Ledger) OpenChannel(source, destination common.Address, sourceFunds, destinationFunds *uint256.Int) *chain.Channel {
	l.Lock()
	defer l.Unlock()

	id := chain.ChannelID(source, destination)
	ch, ok := l.channels[id]
	if !ok || ch.Status == chain.StatusClosed {
		epoch := uint256.NewInt(0)
		if ok {
			epoch = ch.TicketEpoch
		}
		ch = chain.NewChannel(source, destination, sourceFunds, destinationFunds)
		ch.TicketEpoch = epoch
		l.channels[id] = ch
	} else {
		total := new(uint256.Int).Add(sourceFunds, destinationFunds)
		ch.Balance.Add(ch.Balance, total)
		if ch.PartyA() == source {
			ch.BalanceA.Add(ch.BalanceA, sourceFunds)
		} else {
			ch.BalanceA.Add(ch.BalanceA, destinationFunds)
		}
		ch.Status = chain.StatusOpen
	}
	l.log.Infof("Opened channel %v: %v -> %v, balance %v", id, source, destination, ch.Balance.Dec())
	return ch.Clone()
}

// InitiateClose moves an open channel to pending-to-close.
func (l *Ledger) InitiateClose(id common.Hash) error {
	l.Lock()
	defer l.Unlock()

	ch, ok := l.channels[id]
	switch {
	case !ok:
		return chain.ErrChannelNotFound
	case ch.Status != chain.StatusOpen:
		return chain.ErrChannelNotOpen
	}
	ch.Status = chain.StatusPendingToClose
	return nil
}

// CloseChannel finalizes the closure of a channel.
func (l *Ledger) CloseChannel(id common.Hash) error {
	l.Lock()
	ch, ok := l.channels[id]
	if !ok {
		l.Unlock()
		return chain.ErrChannelNotFound
	}
	if ch.Status == chain.StatusClosed {
		l.Unlock()
		return chain.ErrChannelNotOpen
	}
	ch.Status = chain.StatusClosed
	onClose := l.onClose
	l.Unlock()

	l.log.Infof("Closed channel %v", id)
	if onClose != nil {
		onClose(id)
	}
	return nil
}

// Channel returns a copy of the channel's current state.
func (l *Ledger) Channel(ctx context.Context, id common.Hash) (*chain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.RLock()
	defer l.RUnlock()

	ch, ok := l.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", chain.ErrChannelNotFound, id)
	}
	return ch.Clone(), nil
}

// Channels returns copies of every channel.
func (l *Ledger) Channels() []*chain.Channel {
	l.RLock()
	defer l.RUnlock()

	out := make([]*chain.Channel, 0, len(l.channels))
	for _, ch := range l.channels {
		out = append(out, ch.Clone())
	}
	return out
}

// SubmitTicket verifies and settles a winning ticket, paying its amount
// from the channel source to the destination and advancing the channel's
// ticket epoch past it.
func (l *Ledger) SubmitTicket(ctx context.Context, ack *ticket.AcknowledgedTicket) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := l.settle(ack)
	result := "settled"
	if err != nil {
		result = "refused"
	}
	settledTickets.WithLabelValues(result).Inc()
	return err
}

func (l *Ledger) settle(ack *ticket.AcknowledgedTicket) error {
	l.Lock()
	defer l.Unlock()

	t := ack.Signed.Ticket
	key := t.Key()
	ch, ok := l.channels[t.ChannelID]
	if !ok {
		return chain.ErrChannelNotFound
	}
	if _, ok = l.redeemed[key]; ok {
		return chain.ErrAlreadyRedeemed
	}

	err := ack.Check(ch)
	switch {
	case err == nil:
	case errors.Is(err, ticket.ErrStaleEpoch):
		return fmt.Errorf("%w: %v", chain.ErrAlreadyRedeemed, err)
	case errors.Is(err, ticket.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", chain.ErrInsufficientFunds, err)
	default:
		return err
	}
	if !ack.IsWinning() {
		return ErrNotWinning
	}

	if err = ch.Debit(ch.Source, t.Amount); err != nil {
		return err
	}
	l.redeemed[key] = struct{}{}
	ch.TicketEpoch = new(uint256.Int).AddUint64(t.Epoch, 1)
	return nil
}

// SetStake records the stake held by addr.
func (l *Ledger) SetStake(addr common.Address, amount *uint256.Int) {
	l.Lock()
	defer l.Unlock()
	l.stakes[addr] = amount.Clone()
}

// Stake returns the stake held by addr, zero if none.
func (l *Ledger) Stake(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.RLock()
	defer l.RUnlock()
	if s, ok := l.stakes[addr]; ok {
		return s.Clone(), nil
	}
	return new(uint256.Int), nil
}

func init() {
	prometheus.MustRegister(settledTickets)
}
