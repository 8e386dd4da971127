// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExists(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	f := filepath.Join(dir, "f")

	ok, err := Exists(f)
	require.NoError(err)
	require.False(ok)

	require.NoError(os.WriteFile(f, nil, 0600))
	ok, err = Exists(f)
	require.NoError(err)
	require.True(ok)
}

func TestEnsureDir(t *testing.T) {
	require := require.New(t)

	d := filepath.Join(t.TempDir(), "data")
	require.NoError(EnsureDir(d, 0700))
	require.NoError(EnsureDir(d, 0700))

	require.NoError(os.Chmod(d, 0755))
	require.Error(EnsureDir(d, 0700))

	f := filepath.Join(d, "file")
	require.NoError(os.WriteFile(f, nil, 0600))
	require.Error(EnsureDir(f, 0700))
}
