// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	w := new(Worker)
	var stopped atomic.Int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			stopped.Add(1)
		})
	}

	w.Halt()
	require.Equal(int32(4), stopped.Load())
	require.Error(w.Context().Err())

	// A second Halt must not panic on the closed channel.
	w.Halt()
}

func TestWorkerHaltWithoutGo(t *testing.T) {
	w := new(Worker)
	w.Halt()
	select {
	case <-w.HaltCh():
	default:
		t.Fatal("halt channel still open")
	}
}
