// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package ticket

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/porelay/porelay/core/por"
)

// maxWinProb is 2^256 - 1, the encoding of probability 1.
var maxWinProb = new(uint256.Int).SetAllOne()

// EncodeWinProb maps a probability p in [0,1] to its threshold encoding,
// floor(p * (2^256 - 1)).  Values outside the interval are clamped.
func EncodeWinProb(p float64) *uint256.Int {
	switch {
	case p <= 0 || math.IsNaN(p):
		return new(uint256.Int)
	case p >= 1:
		return maxWinProb.Clone()
	}

	const prec = 512
	f := new(big.Float).SetPrec(prec).SetInt(maxWinProb.ToBig())
	f.Mul(f, new(big.Float).SetPrec(prec).SetFloat64(p))
	i, _ := f.Int(nil)
	v, overflow := uint256.FromBig(i)
	if overflow {
		return maxWinProb.Clone()
	}
	return v
}

// DecodeWinProb maps a threshold back to an approximate probability.
func DecodeWinProb(w *uint256.Int) float64 {
	const prec = 512
	f := new(big.Float).SetPrec(prec).SetInt(w.ToBig())
	f.Quo(f, new(big.Float).SetPrec(prec).SetInt(maxWinProb.ToBig()))
	p, _ := f.Float64()
	return p
}

// Luck computes the value compared against the winning threshold:
// Keccak-256 over the ticket hash, the response and the pre-image, read as
// a big-endian 256 bit integer.
func Luck(ticketHash common.Hash, response *por.Response, preImage common.Hash) *uint256.Int {
	h := crypto.Keccak256(ticketHash[:], response.Bytes(), preImage[:])
	return new(uint256.Int).SetBytes32(h)
}

// IsWinning returns true iff the ticket's luck does not exceed its
// encoded winning probability.
func IsWinning(t *Ticket, response *por.Response, preImage common.Hash) bool {
	return !Luck(t.Hash(), response, preImage).Gt(t.WinProb)
}
