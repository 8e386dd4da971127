// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package chain holds the payment channel data model shared by ticket
// issuance, verification and on-chain redemption, together with the error
// values a settlement connector uses to report why a redemption failed.
package chain

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	// ErrAlreadyRedeemed is returned by a connector when the ticket's
	// epoch has already been redeemed on chain.
	ErrAlreadyRedeemed = errors.New("chain: ticket already redeemed")

	// ErrInsufficientFunds is returned by a connector when the channel or
	// the submitting account cannot cover the redemption.
	ErrInsufficientFunds = errors.New("chain: insufficient funds")

	// ErrChannelNotOpen is returned by a connector when the channel is
	// closed or closing.
	ErrChannelNotOpen = errors.New("chain: channel not open")

	// ErrChannelNotFound is returned when no channel has the given id.
	ErrChannelNotFound = errors.New("chain: channel not found")
)

// Status is the life cycle state of a payment channel.
type Status uint8

const (
	// StatusOpen is a funded channel accepting tickets.
	StatusOpen Status = iota

	// StatusPendingToClose is a channel whose closure has been initiated.
	// Tickets may still be redeemed until the closure is finalized.
	StatusPendingToClose

	// StatusClosed is a finalized channel.
	StatusClosed
)

// String returns the human readable status.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusPendingToClose:
		return "pending-to-close"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("[unknown status: %d]", uint8(s))
	}
}

// ChannelID derives the identifier of the channel from source to
// destination.
func ChannelID(source, destination common.Address) common.Hash {
	return crypto.Keccak256Hash(source.Bytes(), destination.Bytes())
}

// Channel is a payment channel between two on-chain accounts.
type Channel struct {
	ID          common.Hash
	Source      common.Address
	Destination common.Address

	// Balance is the total balance locked in the channel.
	Balance *uint256.Int

	// BalanceA is the share of Balance owned by party A, the account with
	// the lexicographically smaller address.
	BalanceA *uint256.Int

	// TicketEpoch is the lowest ticket epoch still redeemable.
	TicketEpoch *uint256.Int

	Status Status
}

// NewChannel returns an open channel from source to destination where each
// party holds the given funds.
func NewChannel(source, destination common.Address, sourceFunds, destinationFunds *uint256.Int) *Channel {
	c := &Channel{
		ID:          ChannelID(source, destination),
		Source:      source,
		Destination: destination,
		Balance:     new(uint256.Int).Add(sourceFunds, destinationFunds),
		TicketEpoch: uint256.NewInt(0),
		Status:      StatusOpen,
	}
	if c.PartyA() == source {
		c.BalanceA = sourceFunds.Clone()
	} else {
		c.BalanceA = destinationFunds.Clone()
	}
	return c
}

// PartyA returns the party whose funds BalanceA tracks.
func (c *Channel) PartyA() common.Address {
	if bytes.Compare(c.Source.Bytes(), c.Destination.Bytes()) <= 0 {
		return c.Source
	}
	return c.Destination
}

// FundsOf returns the funds of addr in the channel.  It returns false if
// addr is not a party to the channel.
func (c *Channel) FundsOf(addr common.Address) (*uint256.Int, bool) {
	switch {
	case addr != c.Source && addr != c.Destination:
		return nil, false
	case addr == c.PartyA():
		return c.BalanceA.Clone(), true
	default:
		if c.BalanceA.Gt(c.Balance) {
			return uint256.NewInt(0), true
		}
		return new(uint256.Int).Sub(c.Balance, c.BalanceA), true
	}
}

// Debit moves amount from the funds of payer to the other party.
func (c *Channel) Debit(payer common.Address, amount *uint256.Int) error {
	funds, ok := c.FundsOf(payer)
	if !ok {
		return fmt.Errorf("chain: %s is not a party of channel %s", payer, c.ID)
	}
	if funds.Lt(amount) {
		return ErrInsufficientFunds
	}
	if payer == c.PartyA() {
		c.BalanceA.Sub(c.BalanceA, amount)
	} else {
		c.BalanceA.Add(c.BalanceA, amount)
	}
	return nil
}

// IsOpen returns true if tickets on the channel may still be redeemed.
func (c *Channel) IsOpen() bool {
	return c.Status == StatusOpen || c.Status == StatusPendingToClose
}

// Clone returns a deep copy of the channel.
func (c *Channel) Clone() *Channel {
	return &Channel{
		ID:          c.ID,
		Source:      c.Source,
		Destination: c.Destination,
		Balance:     c.Balance.Clone(),
		BalanceA:    c.BalanceA.Clone(),
		TicketEpoch: c.TicketEpoch.Clone(),
		Status:      c.Status,
	}
}
