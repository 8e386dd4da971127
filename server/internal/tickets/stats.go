// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package tickets

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/porelay/porelay/core/ticket"
	"github.com/porelay/porelay/server/internal/constants"
)

var (
	ticketsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "tickets",
			Help:      "Number of tickets per state",
		},
		[]string{"state"},
	)
	ticketValueByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "ticket_value",
			Help:      "Sum of ticket amounts per state, in the smallest currency unit",
		},
		[]string{"state"},
	)
	winProportion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: constants.Namespace,
			Subsystem: constants.TicketsSubsystem,
			Name:      "win_proportion",
			Help:      "Redeemed tickets over redeemed and losing tickets",
		},
	)
)

// Stats is a snapshot of the ticket set.
type Stats struct {
	Pending         uint64
	Unredeemed      uint64
	UnredeemedValue uint256.Int
	Redeemed        uint64
	RedeemedValue   uint256.Int
	Losing          uint64
	WinProportion   float64
	Neglected       uint64
	Rejected        uint64
	RejectedValue   uint256.Int
}

// Total returns the number of tickets ever observed.
func (s *Stats) Total() uint64 {
	return s.Pending + s.Unredeemed + s.Redeemed + s.Losing + s.Neglected + s.Rejected
}

// Equal returns true iff every counter and sum matches.
func (s *Stats) Equal(other *Stats) bool {
	return s.Pending == other.Pending &&
		s.Unredeemed == other.Unredeemed &&
		s.UnredeemedValue.Eq(&other.UnredeemedValue) &&
		s.Redeemed == other.Redeemed &&
		s.RedeemedValue.Eq(&other.RedeemedValue) &&
		s.Losing == other.Losing &&
		s.WinProportion == other.WinProportion &&
		s.Neglected == other.Neglected &&
		s.Rejected == other.Rejected &&
		s.RejectedValue.Eq(&other.RejectedValue)
}

// String renders the snapshot on one line for logging.
func (s *Stats) String() string {
	return fmt.Sprintf("pending=%d unredeemed=%d(%s) redeemed=%d(%s) losing=%d neglected=%d rejected=%d(%s) win=%.4f",
		s.Pending, s.Unredeemed, s.UnredeemedValue.Dec(), s.Redeemed, s.RedeemedValue.Dec(),
		s.Losing, s.Neglected, s.Rejected, s.RejectedValue.Dec(), s.WinProportion)
}

func (s *Stats) counter(state State) *uint64 {
	switch state {
	case StatePending:
		return &s.Pending
	case StateUnredeemed:
		return &s.Unredeemed
	case StateRedeemed:
		return &s.Redeemed
	case StateRejected:
		return &s.Rejected
	case StateNeglected:
		return &s.Neglected
	case StateLosing:
		return &s.Losing
	default:
		return nil
	}
}

func (s *Stats) value(state State) *uint256.Int {
	switch state {
	case StateUnredeemed:
		return &s.UnredeemedValue
	case StateRedeemed:
		return &s.RedeemedValue
	case StateRejected:
		return &s.RejectedValue
	default:
		return nil
	}
}

func (s *Stats) add(state State, amount *uint256.Int) {
	if c := s.counter(state); c != nil {
		*c++
	}
	if v := s.value(state); v != nil {
		v.Add(v, amount)
	}
}

func (s *Stats) remove(state State, amount *uint256.Int) {
	if c := s.counter(state); c != nil && *c > 0 {
		*c--
	}
	if v := s.value(state); v != nil {
		v.Sub(v, amount)
	}
}

func (s *Stats) finalize() {
	if decided := s.Redeemed + s.Losing; decided == 0 {
		s.WinProportion = 0
	} else {
		s.WinProportion = float64(s.Redeemed) / float64(decided)
	}
}

// Scan recomputes the statistics from every record in the store.
func Scan(store *Store) (Stats, error) {
	var s Stats
	err := store.ForEach(func(_ ticket.Key, rec *Record) error {
		s.add(rec.State, rec.Amount())
		return nil
	})
	s.finalize()
	return s, err
}

// Aggregator maintains Stats incrementally as tickets are observed and
// change state.
type Aggregator struct {
	sync.Mutex

	stats Stats
}

// NewAggregator returns an aggregator seeded with seed.
func NewAggregator(seed Stats) *Aggregator {
	a := &Aggregator{stats: seed}
	a.stats.finalize()
	a.export()
	return a
}

// Observe accounts for a newly stored ticket.
func (a *Aggregator) Observe(state State, amount *uint256.Int) {
	a.Lock()
	defer a.Unlock()
	a.stats.add(state, amount)
	a.stats.finalize()
	a.export()
}

// Transition accounts for a ticket moving between states.
func (a *Aggregator) Transition(from, to State, amount *uint256.Int) {
	if from == to {
		return
	}
	a.Lock()
	defer a.Unlock()
	a.stats.remove(from, amount)
	a.stats.add(to, amount)
	a.stats.finalize()
	a.export()
}

// Snapshot returns a copy of the current statistics.
func (a *Aggregator) Snapshot() Stats {
	a.Lock()
	defer a.Unlock()
	return a.stats
}

// Check compares the running statistics against a full scan of store and
// returns an error describing any divergence.  The caller must ensure no
// transition is in flight.
func (a *Aggregator) Check(store *Store) error {
	scanned, err := Scan(store)
	if err != nil {
		return err
	}
	running := a.Snapshot()
	if !running.Equal(&scanned) {
		return fmt.Errorf("tickets: statistics diverged: running {%v} scanned {%v}", &running, &scanned)
	}
	return nil
}

// export must be called with the lock held.
func (a *Aggregator) export() {
	s := &a.stats
	for st := StatePending; st < numStates; st++ {
		ticketsByState.WithLabelValues(st.String()).Set(float64(*s.counter(st)))
		if v := s.value(st); v != nil {
			ticketValueByState.WithLabelValues(st.String()).Set(v.Float64())
		}
	}
	winProportion.Set(s.WinProportion)
}

func init() {
	prometheus.MustRegister(ticketsByState)
	prometheus.MustRegister(ticketValueByState)
	prometheus.MustRegister(winProportion)
}
