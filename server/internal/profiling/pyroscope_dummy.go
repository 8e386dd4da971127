// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !pyroscope
// +build !pyroscope

// Package profiling optionally ships continuous profiles to Pyroscope.
package profiling

import "gopkg.in/op/go-logging.v1"

// Start does nothing unless built with the pyroscope tag.
func Start(log *logging.Logger, _ string) error {
	log.Debug("Pyroscope is disabled")
	return nil
}
