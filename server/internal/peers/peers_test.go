// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package peers

import (
	"slices"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newID(t *testing.T) ID {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return IDFromPublicKey(&k.PublicKey)
}

func ids(seq func(func(Entry) bool)) []ID {
	var out []ID
	for e := range seq {
		out = append(out, e.ID)
	}
	return out
}

func TestIDEncoding(t *testing.T) {
	require := require.New(t)

	k, err := crypto.GenerateKey()
	require.NoError(err)
	id := IDFromPublicKey(&k.PublicKey)

	parsed, err := ParseID(id.String())
	require.NoError(err)
	require.Equal(id, parsed)

	addr, err := id.Address()
	require.NoError(err)
	require.Equal(crypto.PubkeyToAddress(k.PublicKey), addr)

	_, err = ParseID("zz")
	require.Error(err)
	_, err = ParseID("0102")
	require.Error(err)
}

func TestRegistryDenyAndAllow(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	fixed := time.Unix(1700000000, 0)
	r.now = func() time.Time { return fixed }

	a, b := newID(t), newID(t)
	r.Register(a, "inbound")
	r.Register(b, "dht")

	r.AddPeerToDenied(a, "inbound")
	active, denied := r.Len()
	require.Equal(1, active)
	require.Equal(1, denied)
	require.True(r.IsDenied(a))

	e, ok := r.Get(a)
	require.True(ok)
	require.Equal(fixed, e.DeniedSince)

	// Re-denying is a no-op.
	r.now = func() time.Time { return fixed.Add(time.Hour) }
	r.AddPeerToDenied(a, "other")
	e, _ = r.Get(a)
	require.Equal(fixed, e.DeniedSince)
	require.Equal("inbound", e.Origin)

	require.True(r.RemovePeerFromDenied(a))
	require.False(r.RemovePeerFromDenied(a))
	r.Register(a, "inbound")
	active, denied = r.Len()
	require.Equal(2, active)
	require.Equal(0, denied)

	e, _ = r.Get(a)
	require.True(e.DeniedSince.IsZero())

	r.Remove(b)
	_, ok = r.Get(b)
	require.False(ok)
}

func TestRegistryNeverInBothSets(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	a := newID(t)
	r.AddPeerToDenied(a, "x")
	r.Register(a, "x")
	require.False(r.IsDenied(a))
	require.Equal([]ID{a}, ids(r.AllEntries()))
	require.Empty(ids(r.AllDenied()))
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	require := require.New(t)

	r := NewRegistry()
	var all []ID
	for i := 0; i < 5; i++ {
		id := newID(t)
		all = append(all, id)
		r.Register(id, "test")
	}
	unrelated := newID(t)
	r.Register(unrelated, "test")
	all = append(all, unrelated)

	seq := r.AllEntries()
	var seen []ID
	for e := range seq {
		if len(seen) == 0 {
			r.AddPeerToDenied(unrelated, "test")
			r.Register(newID(t), "late")
		}
		seen = append(seen, e.ID)
	}
	require.ElementsMatch(all, seen)

	// The sequence is restartable and still reflects the original snapshot.
	require.Equal(seen, ids(seq))
	require.True(slices.Contains(ids(r.AllDenied()), unrelated))
	require.Len(ids(r.AllEntries()), 6)
}
