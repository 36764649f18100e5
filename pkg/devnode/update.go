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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/rs/zerolog/log"
)

// linkUpdateMaxRetries bounds the convergence loop. Exceeding it means
// persistent contention on the name; the condition is surfaced rather
// than looped on forever.
const linkUpdateMaxRetries = 128

var (
	// ErrLinkOutsideDevRoot is returned for stable names that do not
	// lie under the device filesystem root.
	ErrLinkOutsideDevRoot = errors.New("symlink not under device filesystem root")

	// ErrNotConverged is returned when an initialized device's budget
	// of linkUpdateMaxRetries iterations was consumed without the claim
	// set stabilizing. The single pass of an uninitialized device never
	// returns it.
	ErrNotConverged = errors.New("symlink update did not converge")
)

// LinkUpdate adds or removes the device's claim on one stable name and
// drives the symlink at that name to the highest-priority claimant's
// device node.
//
// The loop rereads the claim dir every iteration; the dir tree on
// scratch storage is the coordination medium and is never cached. The
// stat-before/arbitrate/stat-after pattern detects claimants joining
// concurrently: a replaced symlink always triggers another round (a
// higher-priority device may want the name back), a created or
// preserved one only if the claim dir changed underneath us.
func (m *Manager) LinkUpdate(ctx context.Context, dev device.Device, slink string, add bool) error {
	rel, ok := m.relStableName(slink)
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkOutsideDevRoot, slink)
	}

	id, err := dev.ID()
	if err != nil {
		return fmt.Errorf("failed to get device id: %w", err)
	}

	claimDir := filepath.Join(m.linksDir, escapePath(rel, escapedNameMax))
	marker := filepath.Join(claimDir, id)

	if !add {
		m.removeClaim(claimDir, marker)
	} else if err := m.addClaim(claimDir, marker); err != nil {
		return err
	}

	// If the database entry is not written yet we will just do one
	// iteration; a possibly wrong symlink will be fixed on the next
	// invocation.
	retries := 1
	if initialized, err := dev.IsInitialized(); err == nil && initialized {
		retries = linkUpdateMaxRetries
	}

	i := 0
	for ; i < retries; i++ {
		st1, err := m.fs.Stat(claimDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat claim dir %q: %w", claimDir, err)
		}

		target, err := m.findPrioritized(ctx, dev, add, claimDir)
		if errors.Is(err, errNoClaim) {
			log.Debug().Str("link", slink).Msg("no reference left, removing symlink")
			if os.Remove(slink) == nil {
				m.rmdirParents(slink)
			}
			break
		} else if err != nil {
			return fmt.Errorf("failed to determine highest priority symlink: %w", err)
		}

		action, err := m.nodeSymlink(dev, target, slink)
		if err != nil {
			// do not pin a broken state with our own marker
			_ = m.fs.Remove(marker)
			return err
		}
		if action == linkReplaced {
			// We replaced an already existing symlink; some other
			// device may be trying to claim the same name. One more
			// round lets a higher-priority claimant win it back.
			continue
		}

		if st1 == nil {
			break
		}
		st2, err := m.fs.Stat(claimDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat claim dir %q: %w", claimDir, err)
		}
		if statUnmodified(st1, st2) {
			break
		}
	}

	if i >= linkUpdateMaxRetries {
		return fmt.Errorf("%w: %q", ErrNotConverged, slink)
	}
	return nil
}

// relStableName returns the portion of slink after the device
// filesystem root, reporting whether slink actually lies under it.
func (m *Manager) relStableName(slink string) (string, bool) {
	prefix := m.devRoot + string(filepath.Separator)
	if !strings.HasPrefix(slink, prefix) {
		return "", false
	}
	rel := strings.TrimLeft(slink[len(prefix):], string(filepath.Separator))
	if rel == "" {
		return "", false
	}
	return rel, true
}

// rmdirParents removes empty parent directories of slink upward,
// stopping at the device filesystem root or the first non-empty
// directory.
func (m *Manager) rmdirParents(slink string) {
	prefix := m.devRoot + string(filepath.Separator)
	for dir := filepath.Dir(slink); strings.HasPrefix(dir, prefix); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// statUnmodified reports whether two stats describe the same inode
// with identical modification metadata.
func statUnmodified(st1, st2 os.FileInfo) bool {
	if st1 == nil || st2 == nil {
		return false
	}
	sys1, ok1 := st1.Sys().(*syscall.Stat_t)
	sys2, ok2 := st2.Sys().(*syscall.Stat_t)
	if ok1 && ok2 {
		return sys1.Dev == sys2.Dev &&
			sys1.Ino == sys2.Ino &&
			sys1.Mtim == sys2.Mtim
	}
	// in-memory filesystems carry no inode identity
	return st1.ModTime().Equal(st2.ModTime()) && st1.Size() == st2.Size()
}
