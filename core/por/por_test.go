// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package por

import (
	"encoding/hex"
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"
)

const (
	groupOrderHex      = "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141"
	groupOrderMinusOne = "fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364140"
	generatorHex       = "0279be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func scalarOne() []byte {
	b := make([]byte, 32)
	b[31] = 1
	return b
}

func TestHalfKeyValidation(t *testing.T) {
	require := require.New(t)

	_, err := NewHalfKey(make([]byte, 31))
	require.ErrorIs(err, ErrInvalidLength)

	_, err = NewHalfKey(make([]byte, 33))
	require.ErrorIs(err, ErrInvalidLength)

	_, err = NewHalfKey(make([]byte, 32))
	require.ErrorIs(err, ErrInvalidFieldElement)

	_, err = NewHalfKey(mustHex(t, groupOrderHex))
	require.ErrorIs(err, ErrInvalidFieldElement)

	k, err := NewHalfKey(mustHex(t, groupOrderMinusOne))
	require.NoError(err)
	require.Equal(groupOrderMinusOne, hex.EncodeToString(k.Bytes()))
}

func TestResponseValidation(t *testing.T) {
	require := require.New(t)

	_, err := NewResponse(make([]byte, 32))
	require.ErrorIs(err, ErrInvalidFieldElement)

	_, err = NewResponse(mustHex(t, groupOrderHex))
	require.ErrorIs(err, ErrInvalidFieldElement)

	_, err = NewResponse([]byte{1})
	require.ErrorIs(err, ErrInvalidLength)
}

func TestResponseToChallengeKnownValue(t *testing.T) {
	require := require.New(t)

	r, err := NewResponse(scalarOne())
	require.NoError(err)
	require.Equal(generatorHex, r.ToChallenge().String())
}

func TestResponseFromHalfKeys(t *testing.T) {
	require := require.New(t)

	for i := 0; i < 16; i++ {
		a, err := GenerateHalfKey(rand.Reader)
		require.NoError(err)
		b, err := GenerateHalfKey(rand.Reader)
		require.NoError(err)

		ab, err := ResponseFromHalfKeys(a, b)
		require.NoError(err)
		ba, err := ResponseFromHalfKeys(b, a)
		require.NoError(err)
		require.True(ab.Equal(ba))

		again, err := ResponseFromHalfKeys(a, b)
		require.NoError(err)
		require.True(ab.ToChallenge().Equal(again.ToChallenge()))

		combined, err := ChallengeFromHalfKeyChallenges(a.ToChallenge(), b.ToChallenge())
		require.NoError(err)
		require.True(combined.Equal(ab.ToChallenge()))
	}
}

func TestResponseFromHalfKeysZeroSum(t *testing.T) {
	require := require.New(t)

	a, err := NewHalfKey(scalarOne())
	require.NoError(err)
	b, err := NewHalfKey(mustHex(t, groupOrderMinusOne))
	require.NoError(err)

	_, err = ResponseFromHalfKeys(a, b)
	require.ErrorIs(err, ErrInvalidFieldElement)

	_, err = ChallengeFromHalfKeyChallenges(a.ToChallenge(), b.ToChallenge())
	require.ErrorIs(err, ErrInvalidPoint)
}

func TestRoundTrip(t *testing.T) {
	require := require.New(t)

	k, err := GenerateHalfKey(rand.Reader)
	require.NoError(err)
	k2, err := NewHalfKey(k.Bytes())
	require.NoError(err)
	require.True(k.Equal(k2))

	o, err := GenerateHalfKey(rand.Reader)
	require.NoError(err)
	r, err := ResponseFromHalfKeys(k, o)
	require.NoError(err)
	r2, err := NewResponse(r.Bytes())
	require.NoError(err)
	require.True(r.Equal(r2))

	c := r.ToChallenge()
	require.Len(c.Bytes(), ChallengeLength)
	c2, err := NewChallenge(c.Bytes())
	require.NoError(err)
	require.True(c.Equal(c2))
	require.Equal(c.Hash(), c2.Hash())
}

func TestChallengeEncodings(t *testing.T) {
	require := require.New(t)

	_, err := NewChallenge(make([]byte, 32))
	require.ErrorIs(err, ErrInvalidLength)

	bogus := make([]byte, ChallengeLength)
	bogus[0] = 0x05
	_, err = NewChallenge(bogus)
	require.ErrorIs(err, ErrInvalidPoint)

	r, err := NewResponse(scalarOne())
	require.NoError(err)
	uncompressed := r.ToChallenge().point.SerializeUncompressed()
	require.Len(uncompressed, UncompressedChallengeLength)

	c, err := NewChallenge(uncompressed)
	require.NoError(err)
	require.Equal(generatorHex, c.String())
}
