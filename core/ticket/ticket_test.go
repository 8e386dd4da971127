// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ticket

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/porelay/porelay/core/chain"
	"github.com/porelay/porelay/core/por"
)

type fixture struct {
	key     *ecdsa.PrivateKey
	channel *chain.Channel
}

func newFixture(t *testing.T) *fixture {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	dst, err := crypto.GenerateKey()
	require.NoError(t, err)

	ch := chain.NewChannel(
		crypto.PubkeyToAddress(key.PublicKey),
		crypto.PubkeyToAddress(dst.PublicKey),
		uint256.NewInt(1000),
		uint256.NewInt(0),
	)
	return &fixture{key: key, channel: ch}
}

// acknowledged issues a ticket at epoch and returns it with a matching
// response and pre-image.
func (f *fixture) acknowledged(t *testing.T, epoch uint64, amount uint64, winProb *uint256.Int) *AcknowledgedTicket {
	require := require.New(t)

	a, err := por.GenerateHalfKey(rand.Reader)
	require.NoError(err)
	b, err := por.GenerateHalfKey(rand.Reader)
	require.NoError(err)
	resp, err := por.ResponseFromHalfKeys(a, b)
	require.NoError(err)

	var preImage common.Hash
	_, err = rand.Reader.Read(preImage[:])
	require.NoError(err)

	st, err := Create(f.key, uint256.NewInt(amount), resp.ToChallenge(), &ChannelContext{
		Channel:       f.channel,
		Epoch:         uint256.NewInt(epoch),
		WinProb:       winProb,
		OnChainSecret: crypto.Keccak256Hash(preImage[:]),
	})
	require.NoError(err)
	return &AcknowledgedTicket{Signed: st, Response: resp, PreImage: preImage}
}

func TestTicketRoundTrip(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ack := f.acknowledged(t, 3, 10, EncodeWinProb(0.25))

	raw := ack.Signed.Ticket.Bytes()
	require.Len(raw, TicketLength)
	tk, err := NewTicket(raw)
	require.NoError(err)
	require.True(tk.Equal(ack.Signed.Ticket))

	ack2, err := NewAcknowledgedTicket(ack.Bytes())
	require.NoError(err)
	require.Equal(ack.Bytes(), ack2.Bytes())
	require.Equal(ack.Key(), ack2.Key())
	require.NoError(ack2.Check(f.channel))

	_, err = NewTicket(raw[:TicketLength-1])
	require.ErrorIs(err, ErrInvalidLength)
	_, err = NewAcknowledgedTicket(ack.Bytes()[1:])
	require.ErrorIs(err, ErrInvalidLength)
}

func TestTicketLayout(t *testing.T) {
	require := require.New(t)

	tk := &Ticket{
		ChannelID:     common.HexToHash("0x01"),
		Challenge:     common.HexToHash("0x02"),
		Epoch:         uint256.NewInt(3),
		Amount:        uint256.NewInt(4),
		WinProb:       uint256.NewInt(5),
		OnChainSecret: common.HexToHash("0x06"),
	}
	raw := tk.Bytes()
	for i := 0; i < 6; i++ {
		require.Equal(byte(i+1), raw[i*32+31])
	}

	k := tk.Key()
	require.Equal(tk.ChannelID, k.ChannelID())
	require.Equal(uint64(3), k.Epoch().Uint64())
}

func TestSignedTicketVerify(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ack := f.acknowledged(t, 0, 10, EncodeWinProb(1))
	st := ack.Signed

	require.True(st.Verify(f.channel))
	signer, err := st.Signer()
	require.NoError(err)
	require.Equal(f.channel.Source, signer)

	t.Run("wrong channel", func(t *testing.T) {
		other := f.channel.Clone()
		other.ID = common.HexToHash("0xdead")
		require.ErrorIs(st.Check(other), ErrWrongChannel)
	})

	t.Run("stale epoch", func(t *testing.T) {
		ch := f.channel.Clone()
		ch.TicketEpoch = uint256.NewInt(1)
		require.ErrorIs(st.Check(ch), ErrStaleEpoch)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		ch := f.channel.Clone()
		require.NoError(ch.Debit(ch.Source, uint256.NewInt(995)))
		require.ErrorIs(st.Check(ch), ErrInsufficientBalance)
	})

	t.Run("closed channel", func(t *testing.T) {
		ch := f.channel.Clone()
		ch.Status = chain.StatusClosed
		require.ErrorIs(st.Check(ch), chain.ErrChannelNotOpen)
	})

	t.Run("unknown channel", func(t *testing.T) {
		require.ErrorIs(st.Check(nil), ErrUnknownChannel)
	})

	t.Run("wrong signer", func(t *testing.T) {
		ch := f.channel.Clone()
		ch.Source, ch.Destination = ch.Destination, ch.Source
		ch.ID = st.Ticket.ChannelID
		require.ErrorIs(st.Check(ch), ErrBadSignature)
	})
}

func TestTamperedSignatureRejected(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	for i := 0; i < SignatureLength-1; i += 7 {
		ack := f.acknowledged(t, 0, 10, EncodeWinProb(1))
		raw := ack.Signed.Bytes()
		raw[TicketLength+i] ^= 0x01

		st, err := NewSignedTicket(raw)
		require.NoError(err)
		require.False(st.Verify(f.channel))
		require.ErrorIs(st.Check(f.channel), ErrBadSignature)
	}

	ack := f.acknowledged(t, 0, 10, EncodeWinProb(1))
	raw := ack.Signed.Bytes()
	raw[SignedTicketLength-1] = 27
	_, err := NewSignedTicket(raw)
	require.ErrorIs(err, ErrBadSignature)
}

func TestSignerIsCached(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	st := f.acknowledged(t, 0, 1, nil).Signed
	first, err := st.Signer()
	require.NoError(err)

	st.Signature[0] ^= 0xff
	second, err := st.Signer()
	require.NoError(err)
	require.Equal(first, second)
}

func TestCreateRequiresSource(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	other, err := crypto.GenerateKey()
	require.NoError(err)
	r, err := por.GenerateHalfKey(rand.Reader)
	require.NoError(err)

	_, err = Create(other, uint256.NewInt(1), r.ToChallenge(), &ChannelContext{Channel: f.channel})
	require.ErrorIs(err, ErrWrongChannel)

	_, err = Create(f.key, uint256.NewInt(1), r.ToChallenge(), nil)
	require.ErrorIs(err, ErrUnknownChannel)

	st, err := Create(f.key, uint256.NewInt(1), r.ToChallenge(), &ChannelContext{Channel: f.channel})
	require.NoError(err)
	require.True(st.Ticket.WinProb.Eq(EncodeWinProb(1)))
	require.True(st.Ticket.Epoch.Eq(f.channel.TicketEpoch))
}

func TestAcknowledgedTicketCommitments(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)

	ack := f.acknowledged(t, 0, 1, nil)
	other, err := por.NewResponse(ack.Response.Bytes())
	require.NoError(err)
	k, err := por.GenerateHalfKey(rand.Reader)
	require.NoError(err)
	ack.Response, err = por.NewResponse(k.Bytes())
	require.NoError(err)
	require.ErrorIs(ack.Check(f.channel), ErrChallengeMismatch)

	ack.Response = other
	ack.PreImage[0] ^= 0xff
	require.ErrorIs(ack.Check(f.channel), ErrBadPreImage)
}
