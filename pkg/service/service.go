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

// Package service consumes spooled device events and drives the
// symlink manager. It stands in for a netlink uevent dispatcher: the
// upstream event decoder drops one TOML file per event into the spool
// directory and this service applies it.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/NodebindProject/nodebind-core/pkg/database/devicedb"
	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/NodebindProject/nodebind-core/pkg/devnode"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

type Service struct {
	db       *devicedb.DeviceDB
	mgr      *devnode.Manager
	spoolDir string
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(db *devicedb.DeviceDB, mgr *devnode.Manager, spoolDir string) *Service {
	return &Service{
		db:       db,
		mgr:      mgr,
		spoolDir: spoolDir,
		stopCh:   make(chan struct{}),
	}
}

// Start begins watching the spool directory. Events already spooled
// before startup are processed first.
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.spoolDir, 0o750); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	if err := watcher.Add(s.spoolDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch spool directory: %w", err)
	}
	s.watcher = watcher

	s.drainSpool(ctx)

	s.wg.Add(1)
	go s.watchLoop(ctx)

	log.Info().Str("dir", s.spoolDir).Msg("watching event spool")
	return nil
}

// Stop shuts down the watch loop and waits for in-flight event
// handling to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
	s.wg.Wait()
}

func (s *Service) watchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".toml") {
				continue
			}
			s.HandleEventFile(ctx, ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("spool watcher error")
		}
	}
}

// drainSpool processes event files that were spooled while the
// service was down, in name order.
func (s *Service) drainSpool(ctx context.Context) {
	entries, err := os.ReadDir(s.spoolDir)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read spool directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		s.HandleEventFile(ctx, filepath.Join(s.spoolDir, entry.Name()))
	}
}

// HandleEventFile applies one spooled event and consumes the file.
// Malformed files are logged and removed so they cannot wedge the
// spool.
func (s *Service) HandleEventFile(ctx context.Context, path string) {
	ev, err := ParseEventFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("file", path).Msg("skipping malformed event file")
			_ = os.Remove(path)
		}
		return
	}

	if err := s.Apply(ctx, ev); err != nil {
		log.Error().Err(err).Str("file", path).Str("device", ev.Device.DeviceID).
			Msg("failed to apply device event")
	}
	_ = os.Remove(path)
}

// Apply runs one device event against the database and the symlink
// manager.
func (s *Service) Apply(ctx context.Context, ev Event) error {
	log.Debug().Str("action", ev.Action).Str("device", ev.Device.DeviceID).
		Msg("applying device event")

	switch ev.Action {
	case ActionAdd, ActionChange:
		var old device.Device
		if ev.Action == ActionChange {
			if prev, err := s.db.DeviceByID(ctx, ev.Device.DeviceID); err == nil {
				old = prev
			}
		}

		if err := s.db.Upsert(ctx, ev.Device); err != nil {
			return fmt.Errorf("failed to commit device properties: %w", err)
		}

		// the committed entry is what arbitration peers will see
		committed := ev.Device
		committed.Initialized = true

		if err := s.mgr.Add(ctx, committed, ev.applyMAC(), ev.NodePermissions()); err != nil {
			return fmt.Errorf("failed to add device node links: %w", err)
		}
		if old != nil {
			if err := s.mgr.UpdateOldLinks(ctx, committed, old); err != nil {
				return fmt.Errorf("failed to retire old links: %w", err)
			}
		}
		return nil

	case ActionRemove:
		if err := s.mgr.Remove(ctx, ev.Device); err != nil {
			return fmt.Errorf("failed to remove device node links: %w", err)
		}
		if err := s.db.Delete(ctx, ev.Device.DeviceID); err != nil {
			return fmt.Errorf("failed to delete device properties: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown event action %q", ev.Action)
	}
}
