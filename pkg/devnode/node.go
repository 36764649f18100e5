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

// Package devnode maintains the symlinks that give device nodes their
// stable names. Contested names are arbitrated through an on-disk
// claim index on scratch storage; the index and atomic rename are the
// only coordination between concurrently running instances.
//
// This package targets Linux.
package devnode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Manager installs, updates and retires device node symlinks for one
// device filesystem root. Multiple Manager instances in separate
// processes may operate on the same tree concurrently.
type Manager struct {
	fs       afero.Fs
	registry device.Registry
	clock    clockwork.Clock
	devRoot  string
	linksDir string
}

// NewManager returns a Manager operating on the device filesystem
// rooted at devRoot, with its claim index at linksDir. The claim index
// is accessed through fs so tests can substitute an in-memory
// filesystem; devRoot itself is always the real filesystem, since
// symlinks and device nodes live there.
func NewManager(fs afero.Fs, registry device.Registry, devRoot, linksDir string) *Manager {
	return &Manager{
		fs:       fs,
		registry: registry,
		clock:    clockwork.NewRealClock(),
		devRoot:  filepath.Clean(devRoot),
		linksDir: filepath.Clean(linksDir),
	}
}

// SetClockForTesting replaces the clock used for symlink and device
// node timestamp refreshes. This method should only be used in tests.
func (m *Manager) SetClockForTesting(clock clockwork.Clock) {
	m.clock = clock
}

// classLinkPath returns the fixed-topology link path
// <devRoot>/<block|char>/<major>:<minor> for the device.
func (m *Manager) classLinkPath(dev device.Device) (string, error) {
	subsystem, err := dev.Subsystem()
	if err != nil {
		return "", fmt.Errorf("failed to get subsystem: %w", err)
	}
	num, err := dev.DevNum()
	if err != nil {
		return "", fmt.Errorf("failed to get devnum: %w", err)
	}
	class := "char"
	if subsystem == "block" {
		class = "block"
	}
	return filepath.Join(m.devRoot, class, num.String()), nil
}

// Add reconciles the device node's permissions and labels, installs
// the fixed-topology class link, and creates or updates every stable
// symlink the device claims. Per-name failures are logged and skipped
// so one bad name cannot poison the rest.
func (m *Manager) Add(ctx context.Context, dev device.Device, applyMAC bool, perms NodePermissions) error {
	devnode, err := dev.DevName()
	if err != nil {
		return fmt.Errorf("failed to get devname: %w", err)
	}
	id, _ := dev.ID()
	log.Debug().Str("device", id).Str("node", devnode).Msg("handling device node")

	if err := m.applyNodePermissions(dev, applyMAC, perms); err != nil {
		log.Error().Err(err).Str("node", devnode).Msg("failed to apply device node permissions")
	}

	classLink, err := m.classLinkPath(dev)
	if err != nil {
		return fmt.Errorf("failed to get device class link path: %w", err)
	}

	// always add /dev/{block,char}/$major:$minor
	if _, err := m.nodeSymlink(dev, devnode, classLink); err != nil {
		log.Debug().Err(err).Str("link", classLink).Msg("failed to create device class link")
	}

	links, err := dev.DevLinks()
	if err != nil {
		return fmt.Errorf("failed to get devlinks: %w", err)
	}
	for _, slink := range links {
		if err := m.LinkUpdate(ctx, dev, slink, true); err != nil {
			log.Warn().Err(err).Str("link", slink).Msg("failed to update device symlink, ignoring")
		}
	}

	return nil
}

// Remove drops the device's claim on every stable symlink it holds and
// unlinks the fixed-topology class link.
func (m *Manager) Remove(ctx context.Context, dev device.Device) error {
	links, err := dev.DevLinks()
	if err != nil {
		return fmt.Errorf("failed to get devlinks: %w", err)
	}
	for _, slink := range links {
		if err := m.LinkUpdate(ctx, dev, slink, false); err != nil {
			log.Warn().Err(err).Str("link", slink).Msg("failed to update device symlink, ignoring")
		}
	}

	classLink, err := m.classLinkPath(dev)
	if err != nil {
		return fmt.Errorf("failed to get device class link path: %w", err)
	}
	_ = os.Remove(classLink)

	return nil
}

// UpdateOldLinks drops claims on stable names present on the old
// device handle but no longer emitted for the new one.
func (m *Manager) UpdateOldLinks(ctx context.Context, dev, devOld device.Device) error {
	devpath, err := dev.DevPath()
	if err != nil {
		return fmt.Errorf("failed to get devpath: %w", err)
	}

	oldLinks, err := devOld.DevLinks()
	if err != nil {
		return fmt.Errorf("failed to get old devlinks: %w", err)
	}
	links, err := dev.DevLinks()
	if err != nil {
		return fmt.Errorf("failed to get devlinks: %w", err)
	}

	current := make(map[string]struct{}, len(links))
	for _, slink := range links {
		current[slink] = struct{}{}
	}

	for _, slink := range oldLinks {
		if _, ok := current[slink]; ok {
			continue
		}
		log.Debug().Str("link", slink).Str("devpath", devpath).
			Msg("updating old name no longer belonging to device")
		if err := m.LinkUpdate(ctx, dev, slink, false); err != nil {
			log.Warn().Err(err).Str("link", slink).Msg("failed to update device symlink, ignoring")
		}
	}

	return nil
}
