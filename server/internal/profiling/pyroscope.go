// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build pyroscope
// +build pyroscope

package profiling

import (
	"errors"
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

const appName = "porelay"

// Start initializes Pyroscope profiling, tagging profiles with the node
// identifier.
func Start(log *logging.Logger, identifier string) error {
	log.Info("Starting Pyroscope")

	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		return errors.New("PYROSCOPE_SERVER_ADDRESS is not set")
	}

	_, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          pyroscope.StandardLogger,
		Tags: map[string]string{
			"node": identifier,
		},
	})
	if err != nil {
		return err
	}
	log.Infof("Pyroscope started at %s for node %s", serverAddress, identifier)
	return nil
}
