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

// escapedNameMax bounds the escaped form of a relative stable name.
// Escaped names are claim index directory names, so PATH_MAX is the
// natural ceiling.
const escapedNameMax = 4096

// escapePath encodes a relative stable name into a single filename
// usable as a claim index directory name: '/' becomes the literal four
// bytes `\x2f` and '\' becomes `\x5c`; every other byte is copied
// verbatim.
//
// The bound mirrors a fixed-size output buffer of the given size
// including a terminator: if appending the next token would not leave
// room for the terminator, the whole output is reset to empty. The
// empty name is still a usable (though collision-prone) directory
// name, and the escaped output is part of the on-disk index contract,
// so this behavior must not change.
func escapePath(src string, size int) string {
	out := make([]byte, 0, min(len(src), size))
	for i := 0; i < len(src); i++ {
		switch src[i] {
		case '/':
			if len(out)+4 >= size {
				return ""
			}
			out = append(out, `\x2f`...)
		case '\\':
			if len(out)+4 >= size {
				return ""
			}
			out = append(out, `\x5c`...)
		default:
			if len(out)+1 >= size {
				return ""
			}
			out = append(out, src[i])
		}
	}
	return string(out)
}
