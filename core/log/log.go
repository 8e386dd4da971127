// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel.
// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package log provides the node's logging backend, based around the
// go-logging package, and the in-memory log stream served to operators.
package log

import (
	"fmt"
	"io"
	goLog "log"
	"os"
	"strings"
	"sync"

	"gopkg.in/op/go-logging.v1"
)

// Format is the line layout shared by every log destination.
const Format = "%{time:15:04:05.000} %{level:.4s} %{module}: %{message}"

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Backend is a log backend.
type Backend struct {
	logging.LeveledBackend
	sync.RWMutex

	_backend logging.LeveledBackend
	w        io.WriteCloser
	stream   *Stream

	file    string
	level   string
	disable bool
}

// Log is used to log a message as per
// the logging.Backend interface.
func (b *Backend) Log(level logging.Level, calldepth int, record *logging.Record) error {
	b.RLock()
	defer b.RUnlock()
	return b._backend.Log(level, calldepth+1, record)
}

// GetLevel returns the logging level for the specified module
// as per the logging.Leveled interface.
func (b *Backend) GetLevel(module string) logging.Level {
	b.RLock()
	defer b.RUnlock()
	return b._backend.GetLevel(module)
}

// SetLevel sets the logging level for the specified module.
func (b *Backend) SetLevel(level logging.Level, module string) {
	b.RLock()
	defer b.RUnlock()
	b._backend.SetLevel(level, module)
}

// IsEnabledFor returns true if the logger is enabled for the given level.
func (b *Backend) IsEnabledFor(level logging.Level, module string) bool {
	b.RLock()
	defer b.RUnlock()
	return b._backend.IsEnabledFor(level, module)
}

// GetLogger returns a per-module logger that writes to the backend.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b)
	return l
}

// GetGoLogger returns a per-module Go runtime *log.Logger that writes to
// the backend at a single level, for use as http.Server.ErrorLog.
func (b *Backend) GetGoLogger(module string, level string) *goLog.Logger {
	lvl, err := logLevelFromString(level)
	if err != nil {
		panic("log: GetGoLogger(): Invalid level: " + err.Error())
	}

	w := &logWriter{
		m:   b.GetLogger(module),
		lvl: lvl,
	}
	return goLog.New(w, "", 0)
}

// Stream returns the in-memory log stream attached to the backend, or nil.
func (b *Backend) Stream() *Stream {
	return b.stream
}

// Rotate reopens the log file for writing, and should be invoked on SIGHUP.
func (b *Backend) Rotate() error {
	b.Lock()
	defer b.Unlock()

	if err := b.w.Close(); err != nil {
		return err
	}
	return b.newBackend()
}

func (b *Backend) newBackend() error {
	lvl, err := logLevelFromString(b.level)
	if err != nil {
		return err
	}

	switch {
	case b.disable:
		b.w = nopCloser{io.Discard}
	case b.file == "":
		b.w = nopCloser{os.Stdout}
	default:
		const fileMode = 0600

		flags := os.O_CREATE | os.O_APPEND | os.O_WRONLY
		f, err := os.OpenFile(b.file, flags, fileMode)
		if err != nil {
			return fmt.Errorf("log: failed to create log file: %v", err)
		}
		b.w = f
	}

	logFmt := logging.MustStringFormatter(Format)
	backends := []logging.Backend{
		logging.NewBackendFormatter(logging.NewLogBackend(b.w, "", 0), logFmt),
	}
	if b.stream != nil {
		backends = append(backends, logging.NewBackendFormatter(b.stream, logFmt))
	}
	b._backend = logging.MultiLogger(backends...)
	b._backend.SetLevel(lvl, "")
	return nil
}

// New initializes a logging backend.  If stream is non-nil every formatted
// line is also published to it.
func New(f string, level string, disable bool, stream *Stream) (*Backend, error) {
	b := &Backend{
		file:    f,
		level:   level,
		disable: disable,
		stream:  stream,
	}
	if err := b.newBackend(); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidLevel returns an error if l is not a recognized log level.
func ValidLevel(l string) error {
	_, err := logLevelFromString(l)
	return err
}

func logLevelFromString(l string) (logging.Level, error) {
	switch strings.ToUpper(l) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING":
		return logging.WARNING, nil
	case "NOTICE":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("log: invalid level: '%v'", l)
	}
}

type logWriter struct {
	m   *logging.Logger
	lvl logging.Level
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	// The `log` package always terminates lines with a newline.
	s := strings.TrimSpace(string(p))
	if len(s) == 0 {
		return len(p), nil
	}

	switch w.lvl {
	case logging.ERROR:
		w.m.Error("%s", s)
	case logging.WARNING:
		w.m.Warning("%s", s)
	case logging.NOTICE:
		w.m.Notice("%s", s)
	case logging.INFO:
		w.m.Info("%s", s)
	case logging.DEBUG:
		w.m.Debug("%s", s)
	default:
		w.m.Critical("%s", s)
	}
	return len(p), nil
}
