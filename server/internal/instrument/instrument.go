// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument serves the prometheus metrics and the live log stream.
package instrument

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/porelay/porelay/core/log"
	"github.com/porelay/porelay/core/worker"
)

const shutdownTimeout = 5 * time.Second

// Listener is the instrumentation HTTP listener.
type Listener struct {
	worker.Worker

	log *logging.Logger
	l   net.Listener
	srv *http.Server

	// cancel ends the request contexts, releasing log stream handlers.
	cancel context.CancelFunc
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.l.Addr()
}

// Halt stops the listener, disconnecting log stream subscribers.
func (l *Listener) Halt() {
	l.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := l.srv.Shutdown(ctx); err != nil {
		l.srv.Close()
	}
	l.Worker.Halt()
}

func (l *Listener) worker() {
	l.log.Noticef("Serving metrics on: %v", l.l.Addr())
	err := l.srv.Serve(l.l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.log.Errorf("Metrics listener failed: %v", err)
	}
}

// New binds addr and serves /metrics, and /logs when the backend carries a
// log stream.
func New(addr string, logBackend *log.Backend) (*Listener, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s := logBackend.Stream(); s != nil {
		mux.Handle("/logs", s)
	}

	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		log: logBackend.GetLogger("instrument"),
		l:   nl,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          logBackend.GetGoLogger("instrument", "WARNING"),
			BaseContext:       func(net.Listener) context.Context { return baseCtx },
		},
		cancel: cancel,
	}
	l.Go(l.worker)
	return l, nil
}
