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
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NodebindProject/nodebind-core/pkg/database/devicedb"
	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/NodebindProject/nodebind-core/pkg/devnode"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	svc     *Service
	db      *devicedb.DeviceDB
	devRoot string
	spool   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tmp := t.TempDir()

	devRoot := filepath.Join(tmp, "dev")
	require.NoError(t, os.MkdirAll(devRoot, 0o755))

	db, err := devicedb.Open(filepath.Join(tmp, "nodebind.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mgr := devnode.NewManager(afero.NewOsFs(), db, devRoot,
		filepath.Join(tmp, "run", "links"))

	spool := filepath.Join(tmp, "queue")
	return &testEnv{
		svc:     New(db, mgr, spool),
		db:      db,
		devRoot: devRoot,
		spool:   spool,
	}
}

func (e *testEnv) addEvent(t *testing.T, node string, links ...string) Event {
	t.Helper()
	nodePath := filepath.Join(e.devRoot, node)
	require.NoError(t, os.WriteFile(nodePath, nil, 0o600))

	absLinks := make([]string, len(links))
	for i, l := range links {
		absLinks[i] = filepath.Join(e.devRoot, l)
	}

	return Event{
		Action: ActionAdd,
		Device: device.Static{
			DeviceID: "b8:0",
			Node:     nodePath,
			Subsys:   "block",
			Path:     "/devices/test/" + node,
			Major:    8,
			Minor:    0,
			Links:    absLinks,
		},
	}
}

func TestApplyAddCreatesLinks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	ev := env.addEvent(t, "sda", "disk/by-id/ata-TEST")
	require.NoError(t, env.svc.Apply(ctx, ev))

	target, err := os.Readlink(filepath.Join(env.devRoot, "disk", "by-id", "ata-TEST"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "..", "sda"), target)

	// the device was committed to the property database
	dev, err := env.db.DeviceByID(ctx, "b8:0")
	require.NoError(t, err)
	initialized, err := dev.IsInitialized()
	require.NoError(t, err)
	assert.True(t, initialized)
}

func TestApplyChangeRetiresOldLinks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	ev := env.addEvent(t, "sda", "disk/by-id/kept", "disk/by-id/dropped")
	require.NoError(t, env.svc.Apply(ctx, ev))

	changed := ev
	changed.Action = ActionChange
	changed.Device.Links = []string{filepath.Join(env.devRoot, "disk", "by-id", "kept")}
	require.NoError(t, env.svc.Apply(ctx, changed))

	_, err := os.Readlink(filepath.Join(env.devRoot, "disk", "by-id", "kept"))
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(env.devRoot, "disk", "by-id", "dropped"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestApplyRemoveCleansUp(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	ev := env.addEvent(t, "sda", "disk/by-id/ata-TEST")
	require.NoError(t, env.svc.Apply(ctx, ev))

	removed := ev
	removed.Action = ActionRemove
	require.NoError(t, env.svc.Apply(ctx, removed))

	_, err := os.Lstat(filepath.Join(env.devRoot, "disk", "by-id", "ata-TEST"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = env.db.DeviceByID(ctx, "b8:0")
	assert.True(t, errors.Is(err, devicedb.ErrNotFound))
}

func TestHandleEventFileConsumesFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.spool, 0o750))

	nodePath := filepath.Join(env.devRoot, "sda")
	require.NoError(t, os.WriteFile(nodePath, nil, 0o600))

	eventPath := filepath.Join(env.spool, "0001-add.toml")
	content := fmt.Sprintf(`
action = "add"

[device]
device_id = "b8:0"
devname = %q
subsystem = "block"
devpath = "/devices/test/sda"
major = 8
minor = 0
devlinks = [%q]
`, nodePath, filepath.Join(env.devRoot, "disk", "by-id", "X"))
	require.NoError(t, os.WriteFile(eventPath, []byte(content), 0o600))

	env.svc.HandleEventFile(context.Background(), eventPath)

	_, err := os.Lstat(eventPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "event file must be consumed")

	_, err = os.Readlink(filepath.Join(env.devRoot, "disk", "by-id", "X"))
	require.NoError(t, err)
}

func TestHandleEventFileMalformed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.spool, 0o750))

	eventPath := filepath.Join(env.spool, "bad.toml")
	require.NoError(t, os.WriteFile(eventPath, []byte("not = = toml"), 0o600))

	env.svc.HandleEventFile(context.Background(), eventPath)

	_, err := os.Lstat(eventPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "malformed files must not wedge the spool")
}

func TestServiceWatchesSpool(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Start(ctx))
	defer env.svc.Stop()

	nodePath := filepath.Join(env.devRoot, "sda")
	require.NoError(t, os.WriteFile(nodePath, nil, 0o600))
	slink := filepath.Join(env.devRoot, "disk", "by-id", "watched")

	content := fmt.Sprintf(`
action = "add"

[device]
device_id = "b8:0"
devname = %q
subsystem = "block"
devpath = "/devices/test/sda"
major = 8
minor = 0
devlinks = [%q]
`, nodePath, slink)

	// write then rename into place, the way a spooler avoids the
	// service reading a half-written file
	tmpPath := filepath.Join(env.spool, ".0001-add.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmpPath, filepath.Join(env.spool, "0001-add.toml")))

	require.Eventually(t, func() bool {
		_, err := os.Readlink(slink)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "spooled event should produce the symlink")
}
