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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "plain name",
			src:  "sda",
			want: "sda",
		},
		{
			name: "slashes",
			src:  "disk/by-id/ata-SAMSUNG_SSD",
			want: `disk\x2fby-id\x2fata-SAMSUNG_SSD`,
		},
		{
			name: "backslash",
			src:  `weird\name`,
			want: `weird\x5cname`,
		},
		{
			name: "mixed",
			src:  `a/b\c`,
			want: `a\x2fb\x5cc`,
		},
		{
			name: "empty",
			src:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, escapePath(tt.src, escapedNameMax))
		})
	}
}

// Overflow resets the output to empty rather than truncating; the
// degraded-but-valid directory name is part of the on-disk contract.
func TestEscapePathOverflow(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", escapePath("abcdef", 4))
	assert.Equal(t, "abc", escapePath("abc", 4))

	// one slash expands to four bytes and needs terminator room
	assert.Equal(t, "", escapePath("/", 4))
	assert.Equal(t, `\x2f`, escapePath("/", 5))

	// overflow can strike mid-string
	long := strings.Repeat("/", 1024)
	assert.Equal(t, "", escapePath(long, escapedNameMax))
}

// Distinct inputs that fit must escape to distinct directory names,
// or two different stable names would share one claim dir.
func TestEscapePathInjective(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"disk/by-id/X",
		`disk\x2fby-id\x2fX`,
		`disk\by-id\X`,
		"disk/by-id/x",
		"disk/by-path/X",
		`a/b`,
		`a\x2fb`,
		`a\b`,
	}

	seen := make(map[string]string, len(inputs))
	for _, src := range inputs {
		enc := escapePath(src, escapedNameMax)
		prev, dup := seen[enc]
		assert.False(t, dup, "inputs %q and %q collide on %q", prev, src, enc)
		seen[enc] = src
	}
}
