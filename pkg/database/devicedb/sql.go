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

package devicedb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/NodebindProject/nodebind-core/pkg/database"
	"github.com/NodebindProject/nodebind-core/pkg/device"
)

// Queries go here to keep the interface clean

//go:embed migrations/*.sql
var migrationFiles embed.FS

func sqlMigrateUp(db *sql.DB) error {
	if err := database.MigrateUp(db, migrationFiles, "migrations"); err != nil {
		return fmt.Errorf("failed to run device database migrations: %w", err)
	}
	return nil
}

func sqlUpsertDevice(ctx context.Context, db *sql.DB, dev device.Static) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	insert into Devices
		(DeviceID, DevName, Subsystem, DevPath, Major, Minor, LinkPriority, Initialized)
	values
		(?, ?, ?, ?, ?, ?, ?, 1)
	on conflict (DeviceID) do update set
		DevName = excluded.DevName,
		Subsystem = excluded.Subsystem,
		DevPath = excluded.DevPath,
		Major = excluded.Major,
		Minor = excluded.Minor,
		LinkPriority = excluded.LinkPriority,
		Initialized = 1;`,
		dev.DeviceID, dev.Node, dev.Subsys, dev.Path, dev.Major, dev.Minor, dev.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	_, err = tx.ExecContext(ctx, `delete from DevLinks where DeviceID = ?;`, dev.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to clear devlinks: %w", err)
	}
	for seq, link := range dev.Links {
		_, err = tx.ExecContext(ctx,
			`insert into DevLinks (DeviceID, Seq, Path) values (?, ?, ?);`,
			dev.DeviceID, seq, link)
		if err != nil {
			return fmt.Errorf("failed to insert devlink: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqlSelectDevice(ctx context.Context, db *sql.DB, id string) (device.Static, error) {
	var dev device.Static
	var initialized int

	row := db.QueryRowContext(ctx, `
	select DeviceID, DevName, Subsystem, DevPath, Major, Minor, LinkPriority, Initialized
	from Devices where DeviceID = ?;`, id)
	err := row.Scan(&dev.DeviceID, &dev.Node, &dev.Subsys, &dev.Path,
		&dev.Major, &dev.Minor, &dev.Priority, &initialized)
	if errors.Is(err, sql.ErrNoRows) {
		return device.Static{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return device.Static{}, fmt.Errorf("failed to select device: %w", err)
	}
	dev.Initialized = initialized != 0

	rows, err := db.QueryContext(ctx,
		`select Path from DevLinks where DeviceID = ? order by Seq;`, id)
	if err != nil {
		return device.Static{}, fmt.Errorf("failed to select devlinks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return device.Static{}, fmt.Errorf("failed to scan devlink: %w", err)
		}
		dev.Links = append(dev.Links, link)
	}
	if err := rows.Err(); err != nil {
		return device.Static{}, fmt.Errorf("failed to read devlinks: %w", err)
	}

	return dev, nil
}

func sqlDeleteDevice(ctx context.Context, db *sql.DB, id string) error {
	// not all connections enforce foreign keys, clear links explicitly
	_, err := db.ExecContext(ctx, `delete from DevLinks where DeviceID = ?;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete devlinks: %w", err)
	}
	_, err = db.ExecContext(ctx, `delete from Devices where DeviceID = ?;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

//goland:noinspection SqlWithoutWhere
func sqlTruncate(ctx context.Context, db *sql.DB) error {
	sqlStmt := `
	delete from DevLinks;
	delete from Devices;
	vacuum;
	`
	if _, err := db.ExecContext(ctx, sqlStmt); err != nil {
		return fmt.Errorf("failed to truncate database: %w", err)
	}
	return nil
}

func sqlVacuum(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `vacuum;`); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
