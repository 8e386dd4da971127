// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package constants contains the constants shared by the server's
// internal packages.
package constants

const (
	// Namespace is the prometheus namespace of every exported metric.
	Namespace = "porelay"

	// TicketsSubsystem is the prometheus subsystem of the ticket engine.
	TicketsSubsystem = "tickets"

	// AccessSubsystem is the prometheus subsystem of the access gate.
	AccessSubsystem = "access"

	// LedgerSubsystem is the prometheus subsystem of the ledger connector.
	LedgerSubsystem = "ledger"

	// TicketsDatabase is the ticket store file name under the data
	// directory.
	TicketsDatabase = "tickets.db"

	// IdentityKeyFile is the node's secp256k1 account key file name under
	// the data directory.
	IdentityKeyFile = "identity.key"
)
