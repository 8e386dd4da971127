// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsUsageError(t *testing.T) {
	require := require.New(t)

	require.True(isUsageError(errors.New("unknown flag: --bogus")))
	require.True(isUsageError(fmt.Errorf("failed to load config file 'x': %w", errors.New("nope"))))
	require.False(isUsageError(errors.New("server: DataDir: permission denied")))
}
