// SPDX-FileCopyrightText: Copyright (C) 2026 The porelay Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package utils provides small filesystem helpers.
package utils

import (
	"errors"
	"fmt"
	"os"
)

// Exists returns true if f exists, and false if it does not.  Any other
// stat failure is returned as an error.
func Exists(f string) (bool, error) {
	_, err := os.Stat(f)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// EnsureDir creates the directory d with mode if it does not exist, and
// otherwise checks that d is a directory with exactly that mode.
func EnsureDir(d string, mode os.FileMode) error {
	fi, err := os.Lstat(d)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat() %v: %v", d, err)
		}
		if err = os.Mkdir(d, mode); err != nil {
			return fmt.Errorf("failed to create %v: %v", d, err)
		}
		return nil
	}
	if !fi.IsDir() {
		return fmt.Errorf("'%v' is not a directory", d)
	}
	if fi.Mode().Perm() != mode.Perm() {
		return fmt.Errorf("'%v' has invalid permissions '%v'", d, fi.Mode())
	}
	return nil
}
