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
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// stubRegistry resolves device ids from a fixed map, standing in for
// the device property database.
type stubRegistry map[string]device.Static

func (r stubRegistry) DeviceByID(_ context.Context, id string) (device.Device, error) {
	dev, ok := r[id]
	if !ok {
		return nil, fmt.Errorf("unknown device id %q", id)
	}
	return dev, nil
}

// newTestManager builds a Manager rooted in a temp directory, with the
// claim index on the real filesystem so symlink and index operations
// share one tree.
func newTestManager(t *testing.T, reg device.Registry) (*Manager, string) {
	t.Helper()
	tmp := t.TempDir()
	devRoot := filepath.Join(tmp, "dev")
	require.NoError(t, os.MkdirAll(devRoot, 0o755))
	linksDir := filepath.Join(tmp, "run", "nodebind", "links")
	return NewManager(afero.NewOsFs(), reg, devRoot, linksDir), devRoot
}

// blockDev builds a test device handle whose node is a plain file
// under devRoot.
func blockDev(t *testing.T, devRoot, id, node string, priority int, links ...string) device.Static {
	t.Helper()
	nodePath := filepath.Join(devRoot, node)
	require.NoError(t, os.WriteFile(nodePath, nil, 0o600))
	return device.Static{
		DeviceID:    id,
		Node:        nodePath,
		Subsys:      "block",
		Path:        "/devices/test/" + node,
		Major:       8,
		Minor:       0,
		Priority:    priority,
		Initialized: true,
		Links:       links,
	}
}
