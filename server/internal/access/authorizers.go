// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package access

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/porelay/porelay/server/internal/peers"
)

// AllowAll admits every peer.
type AllowAll struct{}

// IsAllowedAccessToNetwork implements Authorizer.
func (AllowAll) IsAllowedAccessToNetwork(context.Context, peers.ID) (bool, error) {
	return true, nil
}

// AllowList admits a fixed set of peers.
type AllowList map[peers.ID]struct{}

// NewAllowList parses hex encoded peer identifiers into an AllowList.
func NewAllowList(ids []string) (AllowList, error) {
	l := make(AllowList, len(ids))
	for _, s := range ids {
		id, err := peers.ParseID(s)
		if err != nil {
			return nil, fmt.Errorf("access: bad allow list entry %q: %w", s, err)
		}
		l[id] = struct{}{}
	}
	return l, nil
}

// IsAllowedAccessToNetwork implements Authorizer.
func (l AllowList) IsAllowedAccessToNetwork(_ context.Context, id peers.ID) (bool, error) {
	_, ok := l[id]
	return ok, nil
}

// StakeSource reports the stake held by an account.
type StakeSource interface {
	Stake(ctx context.Context, addr common.Address) (*uint256.Int, error)
}

// StakeAuthorizer admits peers whose account stake is at least MinStake.
type StakeAuthorizer struct {
	Source   StakeSource
	MinStake *uint256.Int
}

// IsAllowedAccessToNetwork implements Authorizer.
func (a *StakeAuthorizer) IsAllowedAccessToNetwork(ctx context.Context, id peers.ID) (bool, error) {
	addr, err := id.Address()
	if err != nil {
		return false, err
	}
	stake, err := a.Source.Stake(ctx, addr)
	if err != nil {
		return false, err
	}
	if a.MinStake == nil {
		return !stake.IsZero(), nil
	}
	return !stake.Lt(a.MinStake), nil
}
