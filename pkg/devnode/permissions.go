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

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// SecLabel is one SECLABEL{module}=label assignment from the rule
// engine, ordered as the rules emitted it.
type SecLabel struct {
	Module string
	Label  string
}

// NodePermissions carries the ownership, mode and MAC labels the rule
// engine decided for a device node. Nil fields mean "leave as is".
type NodePermissions struct {
	Mode      *uint32
	UID       *uint32
	GID       *uint32
	SecLabels []SecLabel
}

// applyNodePermissions reconciles the live device node with the
// requested ownership, mode and MAC labels. The node is opened O_PATH
// and its identity (file type and rdev) verified through the handle
// before anything is touched: a missing node or one that another
// device has since taken over is left alone and reported as success,
// since both are intrinsically racy. Timestamps are always refreshed;
// downstream consumers use the node's mtime as a media-change
// heartbeat.
func (m *Manager) applyNodePermissions(dev device.Device, applyMAC bool, perms NodePermissions) error {
	devnode, err := dev.DevName()
	if err != nil {
		return fmt.Errorf("failed to get devname: %w", err)
	}
	subsystem, err := dev.Subsystem()
	if err != nil {
		return fmt.Errorf("failed to get subsystem: %w", err)
	}
	num, err := dev.DevNum()
	if err != nil {
		return fmt.Errorf("failed to get devnum: %w", err)
	}

	wantType := uint32(unix.S_IFCHR)
	if subsystem == "block" {
		wantType = unix.S_IFBLK
	}

	fd, err := unix.Open(devnode, unix.O_PATH|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			// necessarily racy: the device may already be gone
			log.Debug().Str("node", devnode).Msg("device node is missing, skipping handling")
			return nil
		}
		return fmt.Errorf("failed to open device node %q: %w", devnode, err)
	}
	defer func() { _ = unix.Close(fd) }()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("failed to stat device node %q: %w", devnode, err)
	}

	if st.Mode&unix.S_IFMT != wantType || st.Rdev != num.RDev() {
		// the inode was replaced by another device while the event was
		// in flight; step away
		log.Debug().Str("node", devnode).Str("devnum", num.String()).
			Msg("found node with non-matching devnum, skipping handling")
		return nil
	}

	// an O_PATH fd cannot be chmod/chown'd directly, go through its
	// /proc alias
	fdPath := fmt.Sprintf("/proc/self/fd/%d", fd)

	applyMode := perms.Mode != nil && st.Mode&0o7777 != *perms.Mode&0o7777
	applyUID := perms.UID != nil && st.Uid != *perms.UID
	applyGID := perms.GID != nil && st.Gid != *perms.GID

	if applyMode || applyUID || applyGID || applyMAC {
		if applyMode || applyUID || applyGID {
			m.chmodAndChown(fdPath, devnode, st, perms, applyMode, applyUID, applyGID)
		} else {
			log.Debug().Str("node", devnode).Msg("preserving device node permissions")
		}
		m.applySecLabels(fdPath, devnode, perms.SecLabels)
	}

	m.touchNode(fdPath, devnode)
	return nil
}

func (m *Manager) chmodAndChown(fdPath, devnode string, st unix.Stat_t, perms NodePermissions,
	applyMode, applyUID, applyGID bool,
) {
	mode := st.Mode & 0o7777
	if perms.Mode != nil {
		mode = *perms.Mode & 0o7777
	}
	uid := st.Uid
	if perms.UID != nil {
		uid = *perms.UID
	}
	gid := st.Gid
	if perms.GID != nil {
		gid = *perms.GID
	}

	log.Debug().Str("node", devnode).
		Uint32("uid", uid).Uint32("gid", gid).Str("mode", fmt.Sprintf("%#o", mode)).
		Msg("setting device node permissions")

	if applyMode {
		if err := unix.Chmod(fdPath, mode); err != nil {
			logPermError(err, devnode, "failed to set mode of device node")
		}
	}
	if applyUID || applyGID {
		if err := unix.Chown(fdPath, int(uid), int(gid)); err != nil {
			logPermError(err, devnode, "failed to set owner of device node")
		}
	}
}

// applySecLabels applies the explicit SECLABEL assignments. Without an
// explicit SMACK assignment the SMACK access label is cleared; without
// an explicit SELinux assignment the SELinux label is left unchanged
// (see selinuxFixDefault).
func (m *Manager) applySecLabels(fdPath, devnode string, labels []SecLabel) {
	var selinux, smack bool
	for _, sl := range labels {
		switch sl.Module {
		case "selinux":
			selinux = true
			if err := selinuxApply(fdPath, sl.Label); err != nil {
				logPermError(err, devnode, "failed to set SELinux label")
			} else {
				log.Debug().Str("node", devnode).Str("label", sl.Label).Msg("set SELinux label")
			}
		case "smack":
			smack = true
			if err := smackApply(fdPath, sl.Label); err != nil {
				logPermError(err, devnode, "failed to set SMACK label")
			} else {
				log.Debug().Str("node", devnode).Str("label", sl.Label).Msg("set SMACK label")
			}
		default:
			log.Error().Str("node", devnode).Str("module", sl.Module).Str("label", sl.Label).
				Msg("unknown security label module, ignoring")
		}
	}

	if !selinux {
		_ = selinuxFixDefault(fdPath, devnode)
	}
	if !smack {
		_ = smackApply(fdPath, "")
	}
}

// touchNode refreshes the node's timestamps to now, e.g. on media
// change events where the node is reused.
func (m *Manager) touchNode(fdPath, devnode string) {
	ts := unix.NsecToTimespec(m.clock.Now().UnixNano())
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, fdPath, []unix.Timespec{ts, ts}, 0); err != nil {
		log.Debug().Err(err).Str("node", devnode).Msg("failed to adjust timestamp of device node")
	}
}

// logPermError demotes "target disappeared" to debug; everything else
// is an error but never aborts the add.
func logPermError(err error, devnode, msg string) {
	if errors.Is(err, unix.ENOENT) {
		log.Debug().Err(err).Str("node", devnode).Msg(msg)
		return
	}
	log.Error().Err(err).Str("node", devnode).Msg(msg)
}
