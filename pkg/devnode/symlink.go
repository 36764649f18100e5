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
	"path/filepath"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ErrConflictingNode is returned when a real block or character device
// inode sits at a path where a symlink was requested. That inode
// belongs to another device and must not be clobbered.
var ErrConflictingNode = errors.New("conflicting device node")

// linkAction reports how nodeSymlink satisfied the request.
type linkAction int

const (
	// linkCreated: the symlink did not exist and was created directly.
	linkCreated linkAction = iota
	// linkPreserved: an existing symlink already had the right target.
	linkPreserved
	// linkReplaced: an existing entry was atomically replaced via a
	// temporary symlink and rename.
	linkReplaced
)

// nodeSymlink creates or replaces the symlink at slink so that it
// points at the device node, using a relative target. Readers of slink
// never observe an absent or half-written link: an existing entry is
// only ever changed by rename.
func (m *Manager) nodeSymlink(dev device.Device, node, slink string) (linkAction, error) {
	target, err := filepath.Rel(filepath.Dir(slink), node)
	if err != nil {
		return 0, fmt.Errorf("failed to get relative path from %q to %q: %w", slink, node, err)
	}

	// preserve link with correct target, do not replace node of other device
	st, err := os.Lstat(slink)
	if err == nil {
		if st.Mode()&os.ModeDevice != 0 {
			return 0, fmt.Errorf("%w at %q, link to %q will not be created",
				ErrConflictingNode, slink, node)
		}
		if st.Mode()&os.ModeSymlink != 0 {
			if cur, err := os.Readlink(slink); err == nil && cur == target {
				log.Debug().Str("link", slink).Str("target", target).
					Msg("preserving existing symlink")
				_ = labelFix(slink, true)
				m.touchNoFollow(slink)
				return linkPreserved, nil
			}
		}
	} else {
		log.Debug().Str("link", slink).Str("target", target).Msg("creating symlink")
		err := m.symlinkRetryParents(target, slink)
		if err == nil {
			return linkCreated, nil
		}
		log.Debug().Err(err).Str("link", slink).
			Msg("failed to create symlink, trying to replace")
	}

	log.Debug().Str("link", slink).Msg("atomically replacing symlink")
	id, err := dev.ID()
	if err != nil {
		return 0, fmt.Errorf("failed to get device id: %w", err)
	}
	tmp := slink + ".tmp-" + id
	_ = os.Remove(tmp)
	if err := m.symlinkRetryParents(target, tmp); err != nil {
		return 0, fmt.Errorf("failed to create symlink %q to %q: %w", tmp, target, err)
	}

	// refuse-clobber applies to the rename step as well: another
	// device's node may have appeared at slink while the temp link was
	// being set up.
	if st, err := os.Lstat(slink); err == nil && st.Mode()&os.ModeDevice != 0 {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("%w at %q, link to %q will not be created",
			ErrConflictingNode, slink, node)
	}

	if err := os.Rename(tmp, slink); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename %q to %q: %w", tmp, slink, err)
	}

	return linkReplaced, nil
}

// symlinkRetryParents creates the symlink at path, recreating missing
// parent directories and retrying while a concurrent cleanup races the
// parents away.
func (m *Manager) symlinkRetryParents(target, path string) error {
	for {
		if err := mkdirParentsLabel(path, 0o755); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		err := os.Symlink(target, path)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to create symlink %q: %w", path, err)
		}
	}
}

// mkdirParentsLabel creates the parent directories of path and passes
// the immediate parent to labelFix, which does not change its label.
func mkdirParentsLabel(path string, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, perm); err != nil {
		return fmt.Errorf("failed to create parent directories of %q: %w", path, err)
	}
	_ = labelFix(dir, true)
	return nil
}

// touchNoFollow refreshes the timestamps of the entry itself, without
// following a symlink.
func (m *Manager) touchNoFollow(path string) {
	ts := unix.NsecToTimespec(m.clock.Now().UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts},
		unix.AT_SYMLINK_NOFOLLOW); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("failed to adjust timestamp")
	}
}
