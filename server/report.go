// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package server

import (
	"path/filepath"

	"github.com/porelay/porelay/server/config"
	"github.com/porelay/porelay/server/internal/constants"
	"github.com/porelay/porelay/server/internal/tickets"
)

// TicketStats is a snapshot of the ticket database.
type TicketStats = tickets.Stats

// ReadTicketStats scans the ticket database of a node that is not running.
func ReadTicketStats(cfg *config.Config) (TicketStats, error) {
	store, err := tickets.Open(filepath.Join(cfg.Server.DataDir, constants.TicketsDatabase))
	if err != nil {
		return TicketStats{}, err
	}
	defer store.Close()
	return tickets.Scan(store)
}
