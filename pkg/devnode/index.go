// Nodebind Core
// Copyright (c) 2026 The Nodebind Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Nodebind Core.
//
// Nodebind Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Nodebind Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Nodebind Core.  If not, see <http://www.gnu.org/licenses/>.

package devnode

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// The claim index records which devices currently claim a stable name.
// For a stable name with escaped form E, the directory <linksDir>/E
// holds one empty marker file per claiming device, named by device id.
// The marker's name alone encodes the claim: files are used instead of
// process memory because cooperating instances in other processes, and
// re-invocations after a crash, must observe the same claim set with
// no IPC.

// addClaim creates the marker file recording the device's claim,
// recreating the claim dir while a concurrent last-claim removal races
// it away.
func (m *Manager) addClaim(claimDir, marker string) error {
	for {
		if err := m.fs.MkdirAll(claimDir, 0o755); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to create claim dir %q: %w", claimDir, err)
		}
		f, err := m.fs.OpenFile(marker,
			os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0o444)
		if err == nil {
			return f.Close()
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to create claim marker %q: %w", marker, err)
		}
	}
}

// removeClaim unlinks the device's marker and opportunistically
// removes the claim dir once it is empty. Correctness does not depend
// on prompt removal; an empty claim dir means no claimants.
func (m *Manager) removeClaim(claimDir, marker string) {
	if err := m.fs.Remove(marker); err != nil {
		return
	}
	m.rmdirIfEmpty(claimDir)
}

func (m *Manager) rmdirIfEmpty(dir string) {
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = m.fs.Remove(dir)
}
