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
	"strings"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// errNoClaim means no device currently claims the stable name.
var errNoClaim = errors.New("no claimant for symlink")

// findPrioritized scans the claim dir and returns the device node of
// the highest-priority claimant. With add set, the calling device
// seeds the candidate with its own node and priority, so ties go to
// the caller; only a strictly greater priority displaces the current
// best. Stale markers whose device can no longer be resolved are
// skipped, never fatal.
func (m *Manager) findPrioritized(ctx context.Context, dev device.Device, add bool, claimDir string) (string, error) {
	var target string
	var priority int

	if add {
		var err error
		priority, err = dev.LinkPriority()
		if err != nil {
			return "", fmt.Errorf("failed to get link priority: %w", err)
		}
		target, err = dev.DevName()
		if err != nil {
			return "", fmt.Errorf("failed to get devname: %w", err)
		}
	}

	entries, err := afero.ReadDir(m.fs, claimDir)
	if err != nil {
		// The claim dir may not exist on disk yet; if this device is
		// claiming the name, its own node is the answer.
		if target != "" {
			return target, nil
		}
		return "", errNoClaim
	}

	id, _ := dev.ID()
	for _, entry := range entries {
		name := entry.Name()
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}

		log.Debug().Str("claimant", name).Str("dir", claimDir).Msg("found symlink claim")

		// did we find ourself?
		if id != "" && name == id {
			continue
		}

		peer, err := m.registry.DeviceByID(ctx, name)
		if err != nil {
			continue
		}
		node, err := peer.DevName()
		if err != nil {
			continue
		}
		prio, err := peer.LinkPriority()
		if err != nil {
			continue
		}
		if target != "" && prio <= priority {
			continue
		}

		log.Debug().Str("claimant", name).Int("priority", prio).Str("dir", claimDir).
			Msg("device claims priority for symlink")
		target = node
		priority = prio
	}

	if target == "" {
		return "", errNoClaim
	}
	return target, nil
}
