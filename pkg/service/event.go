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
	"errors"
	"fmt"
	"os"

	"github.com/NodebindProject/nodebind-core/pkg/device"
	"github.com/NodebindProject/nodebind-core/pkg/devnode"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	ActionAdd    = "add"
	ActionChange = "change"
	ActionRemove = "remove"
)

// SecLabelEntry is one SECLABEL assignment in an event file.
type SecLabelEntry struct {
	Module string `toml:"module"`
	Label  string `toml:"label"`
}

// Permissions is the optional permission block of an event file. Mode
// is the octal permission bits (TOML 0o660 notation works); unset
// fields leave the node as is.
type Permissions struct {
	Mode      *int64          `toml:"mode"`
	UID       *int64          `toml:"uid"`
	GID       *int64          `toml:"gid"`
	ApplyMAC  bool            `toml:"apply_mac"`
	SecLabels []SecLabelEntry `toml:"seclabel"`
}

// Event is one spooled device event.
type Event struct {
	Action      string        `toml:"action"`
	Device      device.Static `toml:"device"`
	Permissions *Permissions  `toml:"permissions"`
}

// ParseEventFile reads and validates a spooled event file.
func ParseEventFile(path string) (Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Event{}, fmt.Errorf("failed to read event file: %w", err)
	}

	var ev Event
	if err := toml.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to parse event file: %w", err)
	}

	switch ev.Action {
	case ActionAdd, ActionChange, ActionRemove:
	default:
		return Event{}, fmt.Errorf("unknown event action %q", ev.Action)
	}
	if ev.Device.DeviceID == "" {
		return Event{}, errors.New("event has no device id")
	}

	return ev, nil
}

// NodePermissions converts the event's permission block for the
// symlink manager.
func (ev Event) NodePermissions() devnode.NodePermissions {
	if ev.Permissions == nil {
		return devnode.NodePermissions{}
	}

	var perms devnode.NodePermissions
	if ev.Permissions.Mode != nil {
		mode := uint32(*ev.Permissions.Mode)
		perms.Mode = &mode
	}
	if ev.Permissions.UID != nil {
		uid := uint32(*ev.Permissions.UID)
		perms.UID = &uid
	}
	if ev.Permissions.GID != nil {
		gid := uint32(*ev.Permissions.GID)
		perms.GID = &gid
	}
	for _, sl := range ev.Permissions.SecLabels {
		perms.SecLabels = append(perms.SecLabels, devnode.SecLabel{
			Module: sl.Module,
			Label:  sl.Label,
		})
	}
	return perms
}

func (ev Event) applyMAC() bool {
	return ev.Permissions != nil && ev.Permissions.ApplyMAC
}
