// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package por implements the proof-of-relay primitives: the half-keys
// exchanged between adjacent relays, the response reconstructed from them
// and the challenge point that commits to that response inside a ticket.
package por

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// HalfKeyLength is the length of a serialized HalfKey in bytes.
	HalfKeyLength = 32

	// ResponseLength is the length of a serialized Response in bytes.
	ResponseLength = 32

	// ChallengeLength is the length of a serialized Challenge in bytes,
	// which always uses the compressed point encoding.
	ChallengeLength = 33

	// UncompressedChallengeLength is the length of an uncompressed
	// challenge point, accepted on input only.
	UncompressedChallengeLength = 65
)

var (
	// ErrInvalidLength is the error returned when a serialized primitive
	// has the wrong size.
	ErrInvalidLength = errors.New("por: invalid length")

	// ErrInvalidFieldElement is the error returned when a scalar is zero
	// or not below the secp256k1 group order.
	ErrInvalidFieldElement = errors.New("por: invalid field element")

	// ErrInvalidPoint is the error returned when a challenge is not a
	// valid secp256k1 point.
	ErrInvalidPoint = errors.New("por: invalid curve point")
)

// scalarFromBytes decodes a non-zero scalar strictly below the group order.
func scalarFromBytes(b []byte, length int) (*secp256k1.ModNScalar, error) {
	if len(b) != length {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(b), length)
	}
	s := new(secp256k1.ModNScalar)
	if overflow := s.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("%w: scalar not below group order", ErrInvalidFieldElement)
	}
	if s.IsZero() {
		return nil, fmt.Errorf("%w: zero scalar", ErrInvalidFieldElement)
	}
	return s, nil
}

func challengeFromScalar(s *secp256k1.ModNScalar) *Challenge {
	var p secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &p)
	p.ToAffine()
	return &Challenge{point: secp256k1.NewPublicKey(&p.X, &p.Y)}
}

// HalfKey is one of the two secret shares that together form a Response.
type HalfKey struct {
	s secp256k1.ModNScalar
}

// NewHalfKey deserializes a HalfKey.
func NewHalfKey(b []byte) (*HalfKey, error) {
	s, err := scalarFromBytes(b, HalfKeyLength)
	if err != nil {
		return nil, err
	}
	return &HalfKey{s: *s}, nil
}

// GenerateHalfKey samples a fresh HalfKey from r.
func GenerateHalfKey(r io.Reader) (*HalfKey, error) {
	var b [HalfKeyLength]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		k, err := NewHalfKey(b[:])
		if err == nil {
			return k, nil
		}
	}
}

// Bytes returns the 32 byte big-endian encoding of the HalfKey.
func (k *HalfKey) Bytes() []byte {
	b := k.s.Bytes()
	return b[:]
}

// ToChallenge returns the public commitment to this half-key, which the
// relay that holds the other half can combine with its own.
func (k *HalfKey) ToChallenge() *Challenge {
	return challengeFromScalar(&k.s)
}

// Equal returns true iff the two half-keys hold the same scalar.
func (k *HalfKey) Equal(other *HalfKey) bool {
	return k.s.Equals(&other.s)
}

// Response is the sum of two half-keys modulo the group order.  Revealing
// it proves that the packet carrying the second half-key was relayed.
type Response struct {
	s secp256k1.ModNScalar
}

// NewResponse deserializes a Response.
func NewResponse(b []byte) (*Response, error) {
	s, err := scalarFromBytes(b, ResponseLength)
	if err != nil {
		return nil, err
	}
	return &Response{s: *s}, nil
}

// ResponseFromHalfKeys computes a + b mod n.  The operation commutes.
func ResponseFromHalfKeys(a, b *HalfKey) (*Response, error) {
	r := new(Response)
	r.s.Add2(&a.s, &b.s)
	if r.s.IsZero() {
		return nil, fmt.Errorf("%w: half-keys sum to zero", ErrInvalidFieldElement)
	}
	return r, nil
}

// Bytes returns the 32 byte big-endian encoding of the Response.
func (r *Response) Bytes() []byte {
	b := r.s.Bytes()
	return b[:]
}

// ToChallenge maps the response to its challenge point, r·G.
func (r *Response) ToChallenge() *Challenge {
	return challengeFromScalar(&r.s)
}

// Equal returns true iff the two responses hold the same scalar.
func (r *Response) Equal(other *Response) bool {
	return r.s.Equals(&other.s)
}

// Challenge is a secp256k1 point committing to a Response.
type Challenge struct {
	point *secp256k1.PublicKey
}

// NewChallenge deserializes a Challenge from either point encoding.
func NewChallenge(b []byte) (*Challenge, error) {
	if len(b) != ChallengeLength && len(b) != UncompressedChallengeLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d or %d", ErrInvalidLength, len(b), ChallengeLength, UncompressedChallengeLength)
	}
	p, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	return &Challenge{point: p}, nil
}

// ChallengeFromHalfKeyChallenges adds two half-key challenges, yielding the
// challenge of the response the two half-keys would form.
func ChallengeFromHalfKeyChallenges(a, b *Challenge) (*Challenge, error) {
	var pa, pb, sum secp256k1.JacobianPoint
	a.point.AsJacobian(&pa)
	b.point.AsJacobian(&pb)
	secp256k1.AddNonConst(&pa, &pb, &sum)
	if sum.Z.IsZero() || (sum.X.IsZero() && sum.Y.IsZero()) {
		return nil, fmt.Errorf("%w: point at infinity", ErrInvalidPoint)
	}
	sum.ToAffine()
	return &Challenge{point: secp256k1.NewPublicKey(&sum.X, &sum.Y)}, nil
}

// Bytes returns the 33 byte compressed point encoding.
func (c *Challenge) Bytes() []byte {
	return c.point.SerializeCompressed()
}

// Hash returns the Keccak-256 digest of the compressed point, the form in
// which a challenge is embedded in a ticket.
func (c *Challenge) Hash() common.Hash {
	return crypto.Keccak256Hash(c.Bytes())
}

// Equal returns true iff both challenges are the same point.
func (c *Challenge) Equal(other *Challenge) bool {
	return subtle.ConstantTimeCompare(c.Bytes(), other.Bytes()) == 1
}

// String returns the hex encoding of the compressed point.
func (c *Challenge) String() string {
	return hex.EncodeToString(c.Bytes())
}
