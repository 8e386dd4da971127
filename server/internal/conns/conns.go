// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package conns implements the table of live peer connections.
package conns

import (
	"container/list"
	"context"
	"errors"
	"io"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/server/internal/glue"
	"github.com/porelay/porelay/server/internal/peers"
)

// ErrHalted is returned when adding a connection to a halted table.
var ErrHalted = errors.New("conns: table halted")

// Conn is a tracked connection.
type Conn struct {
	t *Table
	e *list.Element

	id     peers.ID
	origin string
	c      io.Closer

	closeOnce sync.Once
	closeErr  error
}

// ID returns the peer the connection belongs to.
func (c *Conn) ID() peers.ID {
	return c.id
}

// Close removes the connection from the table and closes it.
func (c *Conn) Close() error {
	c.t.remove(c)
	return c.close()
}

func (c *Conn) close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.c.Close()
	})
	return c.closeErr
}

// Table tracks the connections of every peer.
type Table struct {
	sync.Mutex

	glue glue.Glue
	log  *logging.Logger

	conns  map[peers.ID]*list.List
	halted bool
}

// New creates an empty connection table.
func New(g glue.Glue) *Table {
	return &Table{
		glue:  g,
		log:   g.LogBackend().GetLogger("conns"),
		conns: make(map[peers.ID]*list.List),
	}
}

// Add starts tracking c as a connection to id.
func (t *Table) Add(id peers.ID, origin string, c io.Closer) (*Conn, error) {
	t.Lock()
	defer t.Unlock()

	if t.halted {
		return nil, ErrHalted
	}
	l, ok := t.conns[id]
	if !ok {
		l = list.New()
		t.conns[id] = l
	}
	conn := &Conn{t: t, id: id, origin: origin, c: c}
	conn.e = l.PushBack(conn)
	return conn, nil
}

// Accept tracks an inbound connection and has the access control gate
// review its peer.  Connections to peers that are not allowed are closed
// before Accept returns false.
func (t *Table) Accept(ctx context.Context, id peers.ID, origin string, c io.Closer) bool {
	conn, err := t.Add(id, origin, c)
	if err != nil {
		c.Close()
		return false
	}

	var allowed bool
	select {
	case allowed = <-t.glue.Access().RequestReview(ctx, id, origin):
	case <-ctx.Done():
	}
	if !allowed {
		t.log.Debugf("Dropping connection from %v (%s)", id, origin)
		conn.Close()
	}
	return allowed
}

func (t *Table) remove(c *Conn) {
	t.Lock()
	defer t.Unlock()

	l, ok := t.conns[c.id]
	if !ok || c.e == nil {
		return
	}
	l.Remove(c.e)
	c.e = nil
	if l.Len() == 0 {
		delete(t.conns, c.id)
	}
}

// detach removes every connection of id from the table and returns them.
func (t *Table) detach(id peers.ID) []*Conn {
	t.Lock()
	defer t.Unlock()

	l, ok := t.conns[id]
	if !ok {
		return nil
	}
	delete(t.conns, id)

	out := make([]*Conn, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		c := e.Value.(*Conn)
		c.e = nil
		out = append(out, c)
	}
	return out
}

// CloseConnectionsTo closes every connection to id.
func (t *Table) CloseConnectionsTo(_ context.Context, id peers.ID) error {
	var errs []error
	for _, c := range t.detach(id) {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of connections to id.
func (t *Table) Count(id peers.ID) int {
	t.Lock()
	defer t.Unlock()

	if l, ok := t.conns[id]; ok {
		return l.Len()
	}
	return 0
}

// Halt closes every tracked connection and refuses new ones.
func (t *Table) Halt() {
	t.Lock()
	t.halted = true
	ids := make([]peers.ID, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.Unlock()

	for _, id := range ids {
		if err := t.CloseConnectionsTo(context.Background(), id); err != nil {
			t.log.Warningf("Failed to close connections to %v: %v", id, err)
		}
	}
}
