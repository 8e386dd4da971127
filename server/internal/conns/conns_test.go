// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package conns

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/server/internal/glue"
	"github.com/porelay/porelay/server/internal/peers"
)

type fakeAccess struct {
	glue.Access

	allowed map[peers.ID]bool
}

func (a *fakeAccess) RequestReview(_ context.Context, id peers.ID, _ string) <-chan bool {
	ch := make(chan bool, 1)
	ch <- a.allowed[id]
	return ch
}

type fakeGlue struct {
	glue.Glue

	logBackend *log.Backend
	access     *fakeAccess
}

func (g *fakeGlue) LogBackend() *log.Backend { return g.logBackend }
func (g *fakeGlue) Access() glue.Access      { return g.access }

type closer struct {
	closed atomic.Int32
	err    error
}

func (c *closer) Close() error {
	c.closed.Add(1)
	return c.err
}

func newID(t *testing.T) peers.ID {
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	return peers.IDFromPublicKey(&k.PublicKey)
}

func newTable(t *testing.T) (*Table, *fakeAccess) {
	logBackend, err := log.New("", "DEBUG", true, nil)
	require.NoError(t, err)
	a := &fakeAccess{allowed: make(map[peers.ID]bool)}
	return New(&fakeGlue{logBackend: logBackend, access: a}), a
}

func TestTableCloseConnectionsTo(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	tbl, _ := newTable(t)
	a, b := newID(t), newID(t)

	var ca1, ca2, cb closer
	_, err := tbl.Add(a, "inbound", &ca1)
	require.NoError(err)
	_, err = tbl.Add(a, "outbound", &ca2)
	require.NoError(err)
	_, err = tbl.Add(b, "inbound", &cb)
	require.NoError(err)
	require.Equal(2, tbl.Count(a))

	require.NoError(tbl.CloseConnectionsTo(ctx, a))
	require.Equal(int32(1), ca1.closed.Load())
	require.Equal(int32(1), ca2.closed.Load())
	require.Zero(cb.closed.Load())
	require.Zero(tbl.Count(a))
	require.Equal(1, tbl.Count(b))

	// Nothing left to close.
	require.NoError(tbl.CloseConnectionsTo(ctx, a))

	cb.err = errors.New("broken pipe")
	require.ErrorIs(tbl.CloseConnectionsTo(ctx, b), cb.err)
}

func TestTableConnClose(t *testing.T) {
	require := require.New(t)

	tbl, _ := newTable(t)
	a := newID(t)

	var c closer
	conn, err := tbl.Add(a, "inbound", &c)
	require.NoError(err)
	require.Equal(a, conn.ID())

	require.NoError(conn.Close())
	require.NoError(conn.Close())
	require.Equal(int32(1), c.closed.Load())
	require.Zero(tbl.Count(a))

	require.NoError(tbl.CloseConnectionsTo(context.Background(), a))
	require.Equal(int32(1), c.closed.Load())
}

func TestTableAccept(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	tbl, access := newTable(t)
	good, bad := newID(t), newID(t)
	access.allowed[good] = true

	var cg, cbad closer
	require.True(tbl.Accept(ctx, good, "inbound", &cg))
	require.Equal(1, tbl.Count(good))
	require.Zero(cg.closed.Load())

	require.False(tbl.Accept(ctx, bad, "inbound", &cbad))
	require.Zero(tbl.Count(bad))
	require.Equal(int32(1), cbad.closed.Load())
}

func TestTableHalt(t *testing.T) {
	require := require.New(t)

	tbl, _ := newTable(t)
	a := newID(t)

	var c, late closer
	_, err := tbl.Add(a, "inbound", &c)
	require.NoError(err)

	tbl.Halt()
	require.Equal(int32(1), c.closed.Load())

	_, err = tbl.Add(a, "inbound", &late)
	require.ErrorIs(err, ErrHalted)
	require.False(tbl.Accept(context.Background(), a, "inbound", &late))
	require.Equal(int32(1), late.closed.Load())
}
