// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package tickets

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"

	"github.com/porelay/porelay/core/ticket"
)

const (
	metadataBucket = "metadata"
	ticketsBucket  = "tickets"
	versionKey     = "version"
	storeVersion   = 0
)

var (
	// ErrDuplicateTicket is returned when a ticket with the same channel
	// and epoch has already been observed.
	ErrDuplicateTicket = errors.New("tickets: duplicate ticket")

	// ErrNoSuchTicket is returned when a key is not in the store.
	ErrNoSuchTicket = errors.New("tickets: no such ticket")

	// ErrTerminalState is returned when a transition out of a terminal
	// state is attempted.
	ErrTerminalState = errors.New("tickets: ticket is in a terminal state")

	// ErrInvalidTransition is returned for transitions the life cycle
	// does not allow.
	ErrInvalidTransition = errors.New("tickets: invalid state transition")
)

// State is the life cycle state of a ticket.
type State uint8

const (
	// StatePending is a ticket that has been received but not verified.
	StatePending State = iota

	// StateUnredeemed is a verified winning ticket awaiting redemption.
	StateUnredeemed

	// StateRedeemed is a ticket redeemed on chain.
	StateRedeemed

	// StateRejected is a ticket that failed verification or whose
	// redemption was refused.
	StateRejected

	// StateNeglected is a ticket whose channel closed or whose epoch was
	// superseded before it could be redeemed.
	StateNeglected

	// StateLosing is a verified ticket that did not win.
	StateLosing

	numStates
)

// String returns the human readable state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateUnredeemed:
		return "unredeemed"
	case StateRedeemed:
		return "redeemed"
	case StateRejected:
		return "rejected"
	case StateNeglected:
		return "neglected"
	case StateLosing:
		return "losing"
	default:
		return fmt.Sprintf("[unknown state: %d]", uint8(s))
	}
}

// IsTerminal returns true for states a ticket never leaves.
func (s State) IsTerminal() bool {
	switch s {
	case StateRedeemed, StateRejected, StateNeglected, StateLosing:
		return true
	default:
		return false
	}
}

func validTransition(from, to State) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %v", ErrTerminalState, from)
	}
	switch {
	case to == StatePending, to >= numStates:
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	case from == StateUnredeemed && to == StateLosing:
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	return nil
}

// Record is a persisted ticket.
type Record struct {
	State     State  `cbor:"1,keyasint"`
	Ticket    []byte `cbor:"2,keyasint"`
	Reason    string `cbor:"3,keyasint,omitempty"`
	UpdatedAt int64  `cbor:"4,keyasint"`
}

// Acknowledged deserializes the stored acknowledged ticket.
func (r *Record) Acknowledged() (*ticket.AcknowledgedTicket, error) {
	return ticket.NewAcknowledgedTicket(r.Ticket)
}

// Amount returns the ticket's face value.
func (r *Record) Amount() *uint256.Int {
	if len(r.Ticket) < ticket.TicketLength {
		return new(uint256.Int)
	}
	t, err := ticket.NewTicket(r.Ticket[:ticket.TicketLength])
	if err != nil {
		return new(uint256.Int)
	}
	return t.Amount
}

// Store persists ticket records in a bbolt database, keyed by channel and
// epoch so that iteration visits each channel's tickets in epoch order.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the ticket database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(ticketsBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != storeVersion {
				return fmt.Errorf("tickets: incompatible version: %v", b)
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{storeVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func decodeRecord(b []byte) (*Record, error) {
	rec := new(Record)
	if err := cbor.Unmarshal(b, rec); err != nil {
		return nil, fmt.Errorf("tickets: corrupt record: %w", err)
	}
	return rec, nil
}

// Create stores a new record.  It fails with ErrDuplicateTicket if the key
// exists.
func (s *Store) Create(key ticket.Key, rec *Record) error {
	rec.UpdatedAt = time.Now().UnixNano()
	b, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ticketsBucket))
		if bkt.Get(key[:]) != nil {
			return ErrDuplicateTicket
		}
		return bkt.Put(key[:], b)
	})
}

// Get returns the record stored under key.
func (s *Store) Get(key ticket.Key) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ticketsBucket)).Get(key[:])
		if b == nil {
			return ErrNoSuchTicket
		}
		var err error
		rec, err = decodeRecord(b)
		return err
	})
	return rec, err
}

// Transition atomically moves the record under key to state to, recording
// reason.  A non-terminal record may be rewritten in its current state to
// update the reason.  It returns the record as it was before.
func (s *Store) Transition(key ticket.Key, to State, reason string) (*Record, error) {
	var prev *Record
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(ticketsBucket))
		b := bkt.Get(key[:])
		if b == nil {
			return ErrNoSuchTicket
		}
		var err error
		if prev, err = decodeRecord(b); err != nil {
			return err
		}
		if err = validTransition(prev.State, to); err != nil {
			return err
		}

		next := *prev
		next.State = to
		next.Reason = reason
		next.UpdatedAt = time.Now().UnixNano()
		nb, err := cbor.Marshal(&next)
		if err != nil {
			return err
		}
		return bkt.Put(key[:], nb)
	})
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// ForEach calls fn for every record in key order.  The records are read
// from a single consistent snapshot.
func (s *Store) ForEach(fn func(ticket.Key, *Record) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ticketsBucket)).ForEach(func(k, v []byte) error {
			if len(k) != ticket.KeyLength {
				return fmt.Errorf("tickets: corrupt key length %d", len(k))
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			var key ticket.Key
			copy(key[:], k)
			return fn(key, rec)
		})
	})
}

// Keys returns the keys of every record in one of the given states, in
// key order.
func (s *Store) Keys(states ...State) ([]ticket.Key, error) {
	var want [numStates]bool
	for _, st := range states {
		if st < numStates {
			want[st] = true
		}
	}
	var keys []ticket.Key
	err := s.ForEach(func(k ticket.Key, rec *Record) error {
		if rec.State < numStates && want[rec.State] {
			keys = append(keys, k)
		}
		return nil
	})
	return keys, err
}
