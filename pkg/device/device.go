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

// Package device defines the device handle abstraction consumed by the
// symlink manager. Handles are supplied by the event intake layer or
// re-hydrated from the device property database.
package device

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNotSet is returned by handle getters for properties the underlying
// device record never carried.
var ErrNotSet = errors.New("device property not set")

// Num is a device number (major:minor).
type Num struct {
	Major uint32
	Minor uint32
}

// RDev returns the kernel rdev encoding of the device number.
func (n Num) RDev() uint64 {
	return unix.Mkdev(n.Major, n.Minor)
}

func (n Num) String() string {
	return fmt.Sprintf("%d:%d", n.Major, n.Minor)
}

// Device is a read-only handle on a single device's properties.
//
// Getters return an error when the property is unavailable rather than
// a zero value, because callers treat "unknown priority" differently
// from "priority 0" when arbitrating contested symlinks.
type Device interface {
	// ID returns the device's short id string, unique per device on a
	// running system and safe to use as a filename.
	ID() (string, error)
	// DevName returns the absolute path of the device node.
	DevName() (string, error)
	DevNum() (Num, error)
	// Subsystem returns the kernel subsystem, e.g. "block".
	Subsystem() (string, error)
	DevPath() (string, error)
	// LinkPriority returns the symlink priority assigned by the rule
	// engine. Higher wins.
	LinkPriority() (int, error)
	// IsInitialized reports whether the device's property database
	// entry has been committed.
	IsInitialized() (bool, error)
	// DevLinks returns the ordered stable symlink names claimed by the
	// device.
	DevLinks() ([]string, error)
}

// Registry resolves a device id found in the claim index back to a
// device handle. The production implementation is the device property
// database.
type Registry interface {
	DeviceByID(ctx context.Context, id string) (Device, error)
}
