// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ticket

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/porelay/porelay/core/por"
)

func TestEncodeWinProb(t *testing.T) {
	require := require.New(t)

	require.True(EncodeWinProb(0).IsZero())
	require.True(EncodeWinProb(-1).IsZero())
	require.True(EncodeWinProb(math.NaN()).IsZero())
	require.True(EncodeWinProb(1).Eq(new(uint256.Int).SetAllOne()))
	require.True(EncodeWinProb(2).Eq(new(uint256.Int).SetAllOne()))

	// floor((2^256 - 1) / 2) = 2^255 - 1
	half := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	half.SubUint64(half, 1)
	require.True(EncodeWinProb(0.5).Eq(half), EncodeWinProb(0.5).Hex())

	require.InDelta(0.5, DecodeWinProb(EncodeWinProb(0.5)), 1e-12)
	require.InDelta(0.01, DecodeWinProb(EncodeWinProb(0.01)), 1e-12)
}

func TestWinCheckDeterministic(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	ack := f.acknowledged(t, 0, 1, EncodeWinProb(0.5))

	first := ack.IsWinning()
	for i := 0; i < 10; i++ {
		require.Equal(first, ack.IsWinning())
	}

	always := f.acknowledged(t, 1, 1, EncodeWinProb(1))
	require.True(always.IsWinning())
}

func TestWinCheckDistribution(t *testing.T) {
	require := require.New(t)

	k, err := por.GenerateHalfKey(rand.Reader)
	require.NoError(err)
	resp, err := por.NewResponse(k.Bytes())
	require.NoError(err)

	for _, p := range []float64{0.5, 0.1} {
		tk := &Ticket{
			Epoch:   uint256.NewInt(0),
			Amount:  uint256.NewInt(1),
			WinProb: EncodeWinProb(p),
		}

		const samples = 4000
		wins := 0
		for i := 0; i < samples; i++ {
			var preImage common.Hash
			_, err := rand.Reader.Read(preImage[:])
			require.NoError(err)
			if IsWinning(tk, resp, preImage) {
				wins++
			}
		}
		require.InDelta(p, float64(wins)/samples, 0.05)
	}
}
