// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package ticket implements probabilistic payment tickets: the fixed
// 192 byte ticket layout, its signed and acknowledged forms, and the
// deterministic win check shared with the on-chain verifier.
package ticket

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/porelay/porelay/core/chain"
	"github.com/porelay/porelay/core/por"
)

const (
	fieldLength = 32

	// TicketLength is the length of a serialized Ticket.
	TicketLength = 6 * fieldLength

	// SignatureLength is the length of a recoverable signature: r, s and
	// the recovery id.
	SignatureLength = 65

	// SignedTicketLength is the length of a serialized SignedTicket.
	SignedTicketLength = TicketLength + SignatureLength

	// AcknowledgedTicketLength is the length of a serialized
	// AcknowledgedTicket.
	AcknowledgedTicketLength = SignedTicketLength + por.ResponseLength + fieldLength

	// KeyLength is the length of a ticket Key.
	KeyLength = 2 * fieldLength

	signedMessagePrefix = "\x19Ethereum Signed Message:\n32"
)

var (
	// ErrInvalidLength is returned when a serialized ticket has the wrong
	// size.
	ErrInvalidLength = errors.New("ticket: invalid length")

	// ErrBadSignature is returned when the signature is malformed or does
	// not recover to the channel source.
	ErrBadSignature = errors.New("ticket: bad signature")

	// ErrWrongChannel is returned when the ticket names another channel.
	ErrWrongChannel = errors.New("ticket: wrong channel")

	// ErrStaleEpoch is returned when the ticket epoch is below the
	// channel's current ticket epoch.
	ErrStaleEpoch = errors.New("ticket: stale epoch")

	// ErrInsufficientBalance is returned when the amount exceeds the
	// funds the issuer holds in the channel.
	ErrInsufficientBalance = errors.New("ticket: amount exceeds channel balance")

	// ErrChallengeMismatch is returned when the revealed response does not
	// open the ticket's challenge.
	ErrChallengeMismatch = errors.New("ticket: response does not match challenge")

	// ErrBadPreImage is returned when the revealed pre-image does not hash
	// to the ticket's on-chain secret.
	ErrBadPreImage = errors.New("ticket: pre-image does not match on-chain secret")

	// ErrUnknownChannel is returned when no channel state is available.
	ErrUnknownChannel = errors.New("ticket: unknown channel")
)

// Key identifies a ticket by channel and epoch.  At most one ticket per
// key is ever redeemed.
type Key [KeyLength]byte

// NewKey builds the key for the given channel and epoch.
func NewKey(channelID common.Hash, epoch *uint256.Int) Key {
	var k Key
	copy(k[:fieldLength], channelID[:])
	e := epoch.Bytes32()
	copy(k[fieldLength:], e[:])
	return k
}

// ChannelID returns the channel half of the key.
func (k Key) ChannelID() common.Hash {
	return common.BytesToHash(k[:fieldLength])
}

// Epoch returns the epoch half of the key.
func (k Key) Epoch() *uint256.Int {
	return new(uint256.Int).SetBytes32(k[fieldLength:])
}

// String returns a short printable form of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s", hex.EncodeToString(k[:8]), k.Epoch().Dec())
}

// Ticket is an unsigned payment ticket.
type Ticket struct {
	ChannelID     common.Hash
	Challenge     common.Hash
	Epoch         *uint256.Int
	Amount        *uint256.Int
	WinProb       *uint256.Int
	OnChainSecret common.Hash
}

// NewTicket deserializes a Ticket.
func NewTicket(b []byte) (*Ticket, error) {
	if len(b) != TicketLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), TicketLength)
	}
	field := func(i int) []byte {
		return b[i*fieldLength : (i+1)*fieldLength]
	}
	return &Ticket{
		ChannelID:     common.BytesToHash(field(0)),
		Challenge:     common.BytesToHash(field(1)),
		Epoch:         new(uint256.Int).SetBytes32(field(2)),
		Amount:        new(uint256.Int).SetBytes32(field(3)),
		WinProb:       new(uint256.Int).SetBytes32(field(4)),
		OnChainSecret: common.BytesToHash(field(5)),
	}, nil
}

// Bytes returns the fixed layout serialization that is hashed and signed.
func (t *Ticket) Bytes() []byte {
	b := make([]byte, 0, TicketLength)
	b = append(b, t.ChannelID[:]...)
	b = append(b, t.Challenge[:]...)
	for _, v := range []*uint256.Int{t.Epoch, t.Amount, t.WinProb} {
		f := v.Bytes32()
		b = append(b, f[:]...)
	}
	return append(b, t.OnChainSecret[:]...)
}

// Hash returns the Keccak-256 digest of the serialized ticket.
func (t *Ticket) Hash() common.Hash {
	return crypto.Keccak256Hash(t.Bytes())
}

// SigningHash returns the digest the issuer signs, the ticket hash wrapped
// in the signed message envelope understood by the on-chain verifier.
func (t *Ticket) SigningHash() common.Hash {
	h := t.Hash()
	return crypto.Keccak256Hash([]byte(signedMessagePrefix), h[:])
}

// Key returns the ticket's channel and epoch key.
func (t *Ticket) Key() Key {
	return NewKey(t.ChannelID, t.Epoch)
}

// Equal returns true iff both tickets serialize identically.
func (t *Ticket) Equal(other *Ticket) bool {
	return string(t.Bytes()) == string(other.Bytes())
}

// ChannelContext is the channel state a ticket is issued against.
type ChannelContext struct {
	Channel *chain.Channel

	// Epoch is the epoch to issue at.  It defaults to the channel's
	// current ticket epoch.
	Epoch *uint256.Int

	// WinProb is the encoded winning probability, see EncodeWinProb.
	WinProb *uint256.Int

	// OnChainSecret is the redeemer's committed secret.
	OnChainSecret common.Hash
}

// Create issues a ticket over the channel described by cc, committing to
// challenge, and signs it with key, which must belong to the channel
// source.
func Create(key *ecdsa.PrivateKey, amount *uint256.Int, challenge *por.Challenge, cc *ChannelContext) (*SignedTicket, error) {
	if cc == nil || cc.Channel == nil {
		return nil, ErrUnknownChannel
	}
	if crypto.PubkeyToAddress(key.PublicKey) != cc.Channel.Source {
		return nil, fmt.Errorf("%w: issuer is not the channel source", ErrWrongChannel)
	}
	epoch := cc.Epoch
	if epoch == nil {
		epoch = cc.Channel.TicketEpoch
	}
	winProb := cc.WinProb
	if winProb == nil {
		winProb = new(uint256.Int).SetAllOne()
	}

	t := &Ticket{
		ChannelID:     cc.Channel.ID,
		Challenge:     challenge.Hash(),
		Epoch:         epoch.Clone(),
		Amount:        amount.Clone(),
		WinProb:       winProb.Clone(),
		OnChainSecret: cc.OnChainSecret,
	}
	h := t.SigningHash()
	sig, err := crypto.Sign(h[:], key)
	if err != nil {
		return nil, err
	}
	st := &SignedTicket{Ticket: t}
	copy(st.Signature[:], sig)
	return st, nil
}

// SignedTicket is a Ticket with the issuer's recoverable signature.
type SignedTicket struct {
	Ticket    *Ticket
	Signature [SignatureLength]byte

	signerOnce sync.Once
	signer     common.Address
	signerErr  error
}

// NewSignedTicket deserializes a SignedTicket.  The recovery id must be 0
// or 1.
func NewSignedTicket(b []byte) (*SignedTicket, error) {
	if len(b) != SignedTicketLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), SignedTicketLength)
	}
	t, err := NewTicket(b[:TicketLength])
	if err != nil {
		return nil, err
	}
	st := &SignedTicket{Ticket: t}
	copy(st.Signature[:], b[TicketLength:])
	if v := st.Signature[SignatureLength-1]; v > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrBadSignature, v)
	}
	return st, nil
}

// Bytes returns the ticket followed by the signature.
func (st *SignedTicket) Bytes() []byte {
	return append(st.Ticket.Bytes(), st.Signature[:]...)
}

// Signer returns the address the signature recovers to.  Recovery runs
// once; later calls return the cached result.
func (st *SignedTicket) Signer() (common.Address, error) {
	st.signerOnce.Do(func() {
		st.signer, st.signerErr = st.recoverSigner()
	})
	return st.signer, st.signerErr
}

func (st *SignedTicket) recoverSigner() (common.Address, error) {
	r := new(big.Int).SetBytes(st.Signature[:32])
	s := new(big.Int).SetBytes(st.Signature[32:64])
	if !crypto.ValidateSignatureValues(st.Signature[64], r, s, true) {
		return common.Address{}, fmt.Errorf("%w: invalid signature values", ErrBadSignature)
	}
	h := st.Ticket.SigningHash()
	pub, err := crypto.SigToPub(h[:], st.Signature[:])
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Check verifies the ticket against the current state of its channel and
// returns the reason it is invalid, or nil.  It has no side effects and
// does not decide whether the ticket wins.
func (st *SignedTicket) Check(ch *chain.Channel) error {
	t := st.Ticket
	switch {
	case ch == nil:
		return ErrUnknownChannel
	case t.ChannelID != ch.ID:
		return ErrWrongChannel
	}

	signer, err := st.Signer()
	if err != nil {
		return err
	}
	if signer != ch.Source {
		return fmt.Errorf("%w: signed by %s, channel source is %s", ErrBadSignature, signer, ch.Source)
	}

	if !ch.IsOpen() {
		return fmt.Errorf("%w: %s", chain.ErrChannelNotOpen, ch.Status)
	}
	if t.Epoch.Lt(ch.TicketEpoch) {
		return fmt.Errorf("%w: %s < %s", ErrStaleEpoch, t.Epoch.Dec(), ch.TicketEpoch.Dec())
	}
	funds, _ := ch.FundsOf(ch.Source)
	if t.Amount.Gt(funds) {
		return fmt.Errorf("%w: %s > %s", ErrInsufficientBalance, t.Amount.Dec(), funds.Dec())
	}
	return nil
}

// Verify is the predicate form of Check.
func (st *SignedTicket) Verify(ch *chain.Channel) bool {
	return st.Check(ch) == nil
}

// AcknowledgedTicket is a SignedTicket together with the proof-of-relay
// response that opens its challenge and the redeemer's pre-image.  It is
// the unit handed to the redemption engine.
type AcknowledgedTicket struct {
	Signed   *SignedTicket
	Response *por.Response
	PreImage common.Hash
}

// NewAcknowledgedTicket deserializes an AcknowledgedTicket.
func NewAcknowledgedTicket(b []byte) (*AcknowledgedTicket, error) {
	if len(b) != AcknowledgedTicketLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), AcknowledgedTicketLength)
	}
	st, err := NewSignedTicket(b[:SignedTicketLength])
	if err != nil {
		return nil, err
	}
	resp, err := por.NewResponse(b[SignedTicketLength : SignedTicketLength+por.ResponseLength])
	if err != nil {
		return nil, err
	}
	return &AcknowledgedTicket{
		Signed:   st,
		Response: resp,
		PreImage: common.BytesToHash(b[SignedTicketLength+por.ResponseLength:]),
	}, nil
}

// Bytes returns the signed ticket, response and pre-image concatenated.
func (a *AcknowledgedTicket) Bytes() []byte {
	b := a.Signed.Bytes()
	b = append(b, a.Response.Bytes()...)
	return append(b, a.PreImage[:]...)
}

// Key returns the ticket's channel and epoch key.
func (a *AcknowledgedTicket) Key() Key {
	return a.Signed.Ticket.Key()
}

// Check runs SignedTicket.Check and additionally verifies the response and
// the pre-image against the ticket's commitments.
func (a *AcknowledgedTicket) Check(ch *chain.Channel) error {
	if err := a.Signed.Check(ch); err != nil {
		return err
	}
	t := a.Signed.Ticket
	if a.Response.ToChallenge().Hash() != t.Challenge {
		return ErrChallengeMismatch
	}
	if crypto.Keccak256Hash(a.PreImage[:]) != t.OnChainSecret {
		return ErrBadPreImage
	}
	return nil
}

// IsWinning evaluates the win check for the acknowledged ticket.
func (a *AcknowledgedTicket) IsWinning() bool {
	return IsWinning(a.Signed.Ticket, a.Response, a.PreImage)
}
