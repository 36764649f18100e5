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

package device

import "fmt"

// Static is a Device backed by plain struct fields. It is the parse
// target for spooled device events, the write model for the property
// database, and the handle implementation used in tests.
type Static struct {
	DeviceID    string   `toml:"device_id"`
	Node        string   `toml:"devname"`
	Subsys      string   `toml:"subsystem"`
	Path        string   `toml:"devpath"`
	Major       uint32   `toml:"major"`
	Minor       uint32   `toml:"minor"`
	Priority    int      `toml:"link_priority"`
	Initialized bool     `toml:"initialized"`
	Links       []string `toml:"devlinks"`
}

func (s Static) ID() (string, error) {
	if s.DeviceID == "" {
		return "", fmt.Errorf("device id: %w", ErrNotSet)
	}
	return s.DeviceID, nil
}

func (s Static) DevName() (string, error) {
	if s.Node == "" {
		return "", fmt.Errorf("devname: %w", ErrNotSet)
	}
	return s.Node, nil
}

func (s Static) DevNum() (Num, error) {
	return Num{Major: s.Major, Minor: s.Minor}, nil
}

func (s Static) Subsystem() (string, error) {
	if s.Subsys == "" {
		return "", fmt.Errorf("subsystem: %w", ErrNotSet)
	}
	return s.Subsys, nil
}

func (s Static) DevPath() (string, error) {
	if s.Path == "" {
		return "", fmt.Errorf("devpath: %w", ErrNotSet)
	}
	return s.Path, nil
}

func (s Static) LinkPriority() (int, error) {
	return s.Priority, nil
}

func (s Static) IsInitialized() (bool, error) {
	return s.Initialized, nil
}

func (s Static) DevLinks() ([]string, error) {
	links := make([]string, len(s.Links))
	copy(links, s.Links)
	return links, nil
}
