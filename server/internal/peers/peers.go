// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package peers implements the network peer registry, the set of known
// peers split into those currently allowed and those denied access.
package peers

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IDLength is the length of a peer identifier, a compressed secp256k1
// public key.
const IDLength = 33

// ID identifies a peer by its compressed account public key.
type ID [IDLength]byte

// IDFromPublicKey returns the identifier of the given account key.
func IDFromPublicKey(pub *ecdsa.PublicKey) ID {
	var id ID
	copy(id[:], crypto.CompressPubkey(pub))
	return id
}

// ParseID decodes a hex encoded identifier.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("peers: invalid id: %w", err)
	}
	if len(b) != IDLength {
		return id, fmt.Errorf("peers: invalid id length %d", len(b))
	}
	if _, err = crypto.DecompressPubkey(b); err != nil {
		return id, fmt.Errorf("peers: invalid id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex encoding of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Address returns the on-chain account address of the peer.
func (id ID) Address() (common.Address, error) {
	pub, err := crypto.DecompressPubkey(id[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Entry is a registry entry.
type Entry struct {
	ID ID

	// Origin describes how the peer was discovered.
	Origin string

	// DeniedSince is the time the peer was denied, zero for active peers.
	DeniedSince time.Time
}

// Registry tracks known peers.  A peer is in at most one of the active and
// denied sets.
type Registry struct {
	sync.RWMutex

	active map[ID]*Entry
	denied map[ID]*Entry

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[ID]*Entry),
		denied: make(map[ID]*Entry),
		now:    time.Now,
	}
}

// Register adds or updates id in the active set, removing it from the
// denied set.
func (r *Registry) Register(id ID, origin string) {
	r.Lock()
	defer r.Unlock()

	delete(r.denied, id)
	if e, ok := r.active[id]; ok {
		e.Origin = origin
		return
	}
	r.active[id] = &Entry{ID: id, Origin: origin}
}

// AddPeerToDenied moves id into the denied set.  Denying a peer that is
// already denied changes nothing.
func (r *Registry) AddPeerToDenied(id ID, origin string) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.denied[id]; ok {
		return
	}
	delete(r.active, id)
	r.denied[id] = &Entry{ID: id, Origin: origin, DeniedSince: r.now()}
}

// RemovePeerFromDenied drops id from the denied set and reports whether it
// was there.
func (r *Registry) RemovePeerFromDenied(id ID) bool {
	r.Lock()
	defer r.Unlock()

	_, ok := r.denied[id]
	delete(r.denied, id)
	return ok
}

// Remove prunes id from the registry.
func (r *Registry) Remove(id ID) {
	r.Lock()
	defer r.Unlock()

	delete(r.active, id)
	delete(r.denied, id)
}

// Get returns the entry for id from either set.
func (r *Registry) Get(id ID) (Entry, bool) {
	r.RLock()
	defer r.RUnlock()

	if e, ok := r.active[id]; ok {
		return *e, true
	}
	if e, ok := r.denied[id]; ok {
		return *e, true
	}
	return Entry{}, false
}

// IsDenied returns true if id is in the denied set.
func (r *Registry) IsDenied(id ID) bool {
	r.RLock()
	defer r.RUnlock()

	_, ok := r.denied[id]
	return ok
}

// Len returns the sizes of the active and denied sets.
func (r *Registry) Len() (active, denied int) {
	r.RLock()
	defer r.RUnlock()

	return len(r.active), len(r.denied)
}

// AllEntries returns the active entries as of the call.  The sequence can
// be ranged over any number of times and never observes later changes.
func (r *Registry) AllEntries() iter.Seq[Entry] {
	r.RLock()
	defer r.RUnlock()

	return snapshot(r.active)
}

// AllDenied returns the denied entries as of the call, with the same
// guarantees as AllEntries.
func (r *Registry) AllDenied() iter.Seq[Entry] {
	r.RLock()
	defer r.RUnlock()

	return snapshot(r.denied)
}

// snapshot must be called with the lock held.
func snapshot(m map[ID]*Entry) iter.Seq[Entry] {
	entries := make([]Entry, 0, len(m))
	for _, e := range m {
		entries = append(entries, *e)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return slices.Values(entries)
}
