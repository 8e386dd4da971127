// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package log

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

// DefaultStreamCapacity is the number of lines kept for new subscribers
// when no capacity is configured.
const DefaultStreamCapacity = 100

// Stream is a capped, in-memory buffer of formatted log lines that fans
// every new line out to its subscribers.  When the buffer is full the
// oldest line is dropped.
//
// Stream implements logging.Backend so that it can be attached to a
// Backend alongside the regular log destination.
type Stream struct {
	sync.Mutex

	lines []string
	head  int
	count int

	subs   map[uint64]*Subscription
	nextID uint64
}

// Subscription is a handle on a live Stream subscriber.
type Subscription struct {
	sync.Mutex

	id     uint64
	ch     chan string
	closed bool
}

// C returns the channel on which lines are delivered.  The channel is
// closed when the subscription is removed from the Stream.
func (s *Subscription) C() <-chan string {
	return s.ch
}

// send delivers line without blocking and reports false if the
// subscriber is gone or has fallen behind.
func (s *Subscription) send(line string) bool {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- line:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.Lock()
	defer s.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewStream creates a Stream retaining up to capacity lines.
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultStreamCapacity
	}
	return &Stream{
		lines: make([]string, capacity),
		subs:  make(map[uint64]*Subscription),
	}
}

// Log implements logging.Backend.
func (s *Stream) Log(level logging.Level, calldepth int, rec *logging.Record) error {
	s.Publish(strings.TrimRight(rec.Formatted(calldepth+1), "\n"))
	return nil
}

// Publish appends line to the buffer and forwards it to every subscriber.
// Subscribers that cannot take the line are removed once the fan out is
// complete.
func (s *Stream) Publish(line string) {
	s.Lock()
	capacity := len(s.lines)
	s.lines[(s.head+s.count)%capacity] = line
	if s.count < capacity {
		s.count++
	} else {
		s.head = (s.head + 1) % capacity
	}
	live := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		live = append(live, sub)
	}
	s.Unlock()

	var failed []*Subscription
	for _, sub := range live {
		if !sub.send(line) {
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		s.Unsubscribe(sub)
	}
}

// Backlog returns a copy of the buffered lines, oldest first.
func (s *Stream) Backlog() []string {
	s.Lock()
	defer s.Unlock()
	return s.backlogLocked()
}

func (s *Stream) backlogLocked() []string {
	out := make([]string, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.lines[(s.head+i)%len(s.lines)])
	}
	return out
}

// Subscribe registers a new subscriber.  The current backlog is queued on
// the subscription before any new line, and up to depth further lines may
// be pending before the subscriber is considered too slow and dropped.
func (s *Stream) Subscribe(depth int) *Subscription {
	if depth <= 0 {
		depth = 1
	}

	s.Lock()
	defer s.Unlock()

	backlog := s.backlogLocked()
	sub := &Subscription{
		id: s.nextID,
		ch: make(chan string, len(backlog)+depth),
	}
	s.nextID++
	for _, line := range backlog {
		sub.ch <- line
	}
	s.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel.  It is safe to call more
// than once.
func (s *Stream) Unsubscribe(sub *Subscription) {
	s.Lock()
	delete(s.subs, sub.id)
	s.Unlock()
	sub.close()
}

// Subscribers returns the number of live subscribers.
func (s *Stream) Subscribers() int {
	s.Lock()
	defer s.Unlock()
	return len(s.subs)
}

// ServeHTTP streams the backlog followed by every new line as chunked
// plain text until the client goes away.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	const subscriberDepth = 256
	sub := s.Subscribe(subscriberDepth)
	defer s.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return
			}
			if len(sub.C()) == 0 {
				flusher.Flush()
			}
		}
	}
}
