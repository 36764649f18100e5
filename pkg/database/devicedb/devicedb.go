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

// Package devicedb stores committed device properties on scratch
// storage. It is the production implementation of device.Registry: the
// symlink arbiter re-hydrates peer devices found in the claim index
// through this database.
package devicedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNullSQL  = errors.New("DeviceDB is not connected")
	ErrNotFound = errors.New("device not found")
)

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on"

type DeviceDB struct {
	sql    *sql.DB
	dbPath string
}

// Open opens (creating and migrating if necessary) the device database
// at dbPath.
func Open(dbPath string) (*DeviceDB, error) {
	db := &DeviceDB{sql: nil, dbPath: dbPath}
	if err := db.open(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DeviceDB) open() error {
	if err := os.MkdirAll(filepath.Dir(db.dbPath), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for database: %w", err)
	}
	sqlInstance, err := sql.Open("sqlite3", db.dbPath+sqliteConnParams)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.sql = sqlInstance
	return db.Allocate()
}

func (db *DeviceDB) Allocate() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

// Upsert commits a device's properties and devlink list. A committed
// entry is what makes a device "initialized" for arbitration purposes,
// so the stored row always reads back initialized.
func (db *DeviceDB) Upsert(ctx context.Context, dev device.Static) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	if dev.DeviceID == "" {
		return errors.New("device id required")
	}
	return sqlUpsertDevice(ctx, db.sql, dev)
}

// DeviceByID implements device.Registry.
func (db *DeviceDB) DeviceByID(ctx context.Context, id string) (device.Device, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}
	dev, err := sqlSelectDevice(ctx, db.sql, id)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (db *DeviceDB) Delete(ctx context.Context, id string) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlDeleteDevice(ctx, db.sql, id)
}

func (db *DeviceDB) Truncate(ctx context.Context) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlTruncate(ctx, db.sql)
}

func (db *DeviceDB) Vacuum(ctx context.Context) error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlVacuum(ctx, db.sql)
}

func (db *DeviceDB) Close() error {
	if db.sql == nil {
		return nil
	}
	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// SetSQLForTesting allows injection of a sql.DB instance for testing
// purposes. This method should only be used in tests to set up
// in-memory databases.
func (db *DeviceDB) SetSQLForTesting(sqlDB *sql.DB) error {
	db.sql = sqlDB
	return db.Allocate()
}
