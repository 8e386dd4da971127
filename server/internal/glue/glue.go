// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package glue implements the glue structure that ties all the internal
// subpackages together.
package glue

import (
	"context"

	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/server/config"
	"github.com/porelay/porelay/server/internal/peers"
)

// Glue is the structure that binds the internal components together.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend

	Peers() *peers.Registry
	Access() Access
	Connections() Connections
}

type Access interface {
	Halt()
	ForceReview()
	RequestReview(context.Context, peers.ID, string) <-chan bool
}

type Connections interface {
	Halt()
	CloseConnectionsTo(context.Context, peers.ID) error
}
