// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelay(t *testing.T) {
	require := require.New(t)

	baseDelay := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	t.Run("exponential growth", func(t *testing.T) {
		require.Equal(100*time.Millisecond, Delay(baseDelay, maxDelay, 0, 0))
		require.Equal(200*time.Millisecond, Delay(baseDelay, maxDelay, 0, 1))
		require.Equal(400*time.Millisecond, Delay(baseDelay, maxDelay, 0, 2))
		require.Equal(800*time.Millisecond, Delay(baseDelay, maxDelay, 0, 3))
	})

	t.Run("max delay cap", func(t *testing.T) {
		require.Equal(maxDelay, Delay(baseDelay, maxDelay, 0, 10))
	})

	t.Run("jitter range", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			d := Delay(baseDelay, maxDelay, 0.2, 0)
			require.GreaterOrEqual(d, 80*time.Millisecond)
			require.LessOrEqual(d, 120*time.Millisecond)
		}
	})
}

type mockNetError struct {
	timeout bool
	msg     string
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return false }

func TestIsTransientError(t *testing.T) {
	require := require.New(t)

	require.False(IsTransientError(nil))
	require.True(IsTransientError(errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")))
	require.True(IsTransientError(errors.New("read: connection reset by peer")))
	require.True(IsTransientError(errors.New("unexpected EOF")))
	require.True(IsTransientError(context.DeadlineExceeded))
	require.True(IsTransientError(fmt.Errorf("submit: %w", context.DeadlineExceeded)))
	require.True(IsTransientError(Transient(errors.New("nonce too low"))))
	require.True(IsTransientError(&mockNetError{timeout: true, msg: "operation stalled"}))

	require.False(IsTransientError(context.Canceled))
	require.False(IsTransientError(errors.New("ticket already redeemed")))
	require.False(IsTransientError(&mockNetError{msg: "permanent failure"}))
	require.Nil(Transient(nil))
}

func TestDo(t *testing.T) {
	require := require.New(t)

	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		n, err := Do(context.Background(), p, func(context.Context) error {
			calls++
			if calls < 3 {
				return Transient(errors.New("busy"))
			}
			return nil
		})
		require.NoError(err)
		require.Equal(3, n)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		permanent := errors.New("rejected")
		n, err := Do(context.Background(), p, func(context.Context) error {
			return permanent
		})
		require.ErrorIs(err, permanent)
		require.Equal(1, n)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		n, err := Do(context.Background(), p, func(context.Context) error {
			return Transient(errors.New("busy"))
		})
		require.Error(err)
		require.True(IsTransientError(err))
		require.Equal(3, n)
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
		n, err := Do(ctx, slow, func(context.Context) error {
			return Transient(errors.New("busy"))
		})
		require.Error(err)
		require.Equal(1, n)
	})
}
