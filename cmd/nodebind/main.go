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

//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodebindProject/nodebind-core/pkg/config"
	"github.com/NodebindProject/nodebind-core/pkg/database/devicedb"
	"github.com/NodebindProject/nodebind-core/pkg/devnode"
	"github.com/NodebindProject/nodebind-core/pkg/helpers"
	"github.com/NodebindProject/nodebind-core/pkg/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const defaultConfigDir = "/etc/nodebind"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config", defaultConfigDir, "config directory")
	addEvent := flag.String("add", "", "apply a single device event file and exit")
	removeID := flag.String("remove", "", "remove links of the device with this id and exit")
	daemonMode := flag.Bool("daemon", false, "run the event spool service in the foreground")
	verbose := flag.Bool("verbose", false, "also log to the console")
	flag.Parse()

	cfg, err := config.NewConfig(*configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := initLogging(cfg, *verbose); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	db, err := devicedb.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open device database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close device database")
		}
	}()

	mgr := devnode.NewManager(afero.NewOsFs(), db, cfg.DevRoot(), cfg.LinksDir())
	ctx := context.Background()

	switch {
	case *addEvent != "":
		ev, err := service.ParseEventFile(*addEvent)
		if err != nil {
			return err
		}
		return service.New(db, mgr, cfg.SpoolDir()).Apply(ctx, ev)

	case *removeID != "":
		dev, err := db.DeviceByID(ctx, *removeID)
		if err != nil {
			return fmt.Errorf("failed to look up device %q: %w", *removeID, err)
		}
		if err := mgr.Remove(ctx, dev); err != nil {
			return err
		}
		return db.Delete(ctx, *removeID)

	case *daemonMode:
		svc := service.New(db, mgr, cfg.SpoolDir())
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event service: %w", err)
		}
		defer svc.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil

	default:
		flag.Usage()
		return nil
	}
}

func initLogging(cfg *config.Instance, verbose bool) error {
	var writers []io.Writer
	if verbose {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if err := helpers.InitLogging(cfg.LogDir(), writers); err != nil {
		return err
	}
	helpers.SetLogLevel(cfg.DebugLogging())
	return nil
}
