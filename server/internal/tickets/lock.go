// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package tickets

import (
	"sync"

	"github.com/porelay/porelay/core/ticket"
)

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per ticket key.  Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	sync.Mutex
	locks map[ticket.Key]*refMutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[ticket.Key]*refMutex)}
}

// lock acquires the mutex for k and returns the function releasing it.
func (m *keyedMutex) lock(k ticket.Key) func() {
	m.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = new(refMutex)
		m.locks[k] = l
	}
	l.refs++
	m.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, k)
		}
		m.Unlock()
	}
}

func (m *keyedMutex) len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.locks)
}
