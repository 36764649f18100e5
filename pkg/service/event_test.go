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

package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEventFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "event.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseEventFile(t *testing.T) {
	t.Parallel()

	path := writeEventFile(t, `
action = "add"

[device]
device_id = "b8:0"
devname = "/dev/sda"
subsystem = "block"
devpath = "/devices/pci0000:00/sda"
major = 8
minor = 0
link_priority = 5
devlinks = ["/dev/disk/by-id/ata-TEST"]

[permissions]
mode = 0o660
uid = 0
gid = 6
apply_mac = true

[[permissions.seclabel]]
module = "selinux"
label = "system_u:object_r:fixed_disk_device_t:s0"
`)

	ev, err := ParseEventFile(path)
	require.NoError(t, err)

	assert.Equal(t, ActionAdd, ev.Action)
	assert.Equal(t, "b8:0", ev.Device.DeviceID)
	assert.Equal(t, []string{"/dev/disk/by-id/ata-TEST"}, ev.Device.Links)
	assert.True(t, ev.applyMAC())

	perms := ev.NodePermissions()
	require.NotNil(t, perms.Mode)
	assert.Equal(t, uint32(0o660), *perms.Mode)
	require.NotNil(t, perms.GID)
	assert.Equal(t, uint32(6), *perms.GID)
	require.Len(t, perms.SecLabels, 1)
	assert.Equal(t, "selinux", perms.SecLabels[0].Module)
}

func TestParseEventFileNoPermissions(t *testing.T) {
	t.Parallel()

	path := writeEventFile(t, `
action = "remove"

[device]
device_id = "b8:0"
`)

	ev, err := ParseEventFile(path)
	require.NoError(t, err)

	assert.Equal(t, ActionRemove, ev.Action)
	assert.False(t, ev.applyMAC())

	perms := ev.NodePermissions()
	assert.Nil(t, perms.Mode)
	assert.Nil(t, perms.UID)
	assert.Nil(t, perms.GID)
	assert.Empty(t, perms.SecLabels)
}

func TestParseEventFileBadAction(t *testing.T) {
	t.Parallel()

	path := writeEventFile(t, `
action = "explode"

[device]
device_id = "b8:0"
`)

	_, err := ParseEventFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event action")
}

func TestParseEventFileMissingDeviceID(t *testing.T) {
	t.Parallel()

	path := writeEventFile(t, `
action = "add"

[device]
devname = "/dev/sda"
`)

	_, err := ParseEventFile(path)
	require.Error(t, err)
}

func TestParseEventFileMalformed(t *testing.T) {
	t.Parallel()

	path := writeEventFile(t, `this is not toml = = =`)

	_, err := ParseEventFile(path)
	require.Error(t, err)
}
