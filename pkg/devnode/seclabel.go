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
	"errors"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// MAC labels live in the security.* xattr namespace; the attribute
// names are kernel ABI.
const (
	xattrSELinux     = "security.selinux"
	xattrSmackAccess = "security.SMACK64"

	selinuxMount = "/sys/fs/selinux"
)

func selinuxEnabled() bool {
	st, err := os.Stat(selinuxMount)
	return err == nil && st.IsDir()
}

// selinuxApply sets an explicit SELinux label on the file behind path.
func selinuxApply(path, label string) error {
	return unix.Setxattr(path, xattrSELinux, []byte(label), 0)
}

// selinuxFixDefault handles a node without an explicit SELinux label.
// It never relabels: without a loaded policy database there is no
// default to derive, so it does nothing when SELinux is inactive and
// only logs at debug that the relabel was skipped when it is active.
func selinuxFixDefault(path, devnode string) error {
	if !selinuxEnabled() {
		return nil
	}
	log.Debug().Str("node", devnode).Msg("no policy database available, skipping default SELinux relabel")
	return nil
}

// smackApply sets the SMACK access label; an empty label clears it,
// which is the SMACK default.
func smackApply(path, label string) error {
	if label == "" {
		err := unix.Removexattr(path, xattrSmackAccess)
		if err == nil || errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP) {
			return nil
		}
		return err
	}
	return unix.Setxattr(path, xattrSmackAccess, []byte(label), 0)
}

// labelFix is called on created directories and preserved symlinks. It
// does not change any label: without a policy database there is no
// default to derive, so when SELinux is active it only checks that
// path exists and logs at debug that the relabel was skipped. With
// ignoreMissing set, a vanished path is not an error.
func labelFix(path string, ignoreMissing bool) error {
	if !selinuxEnabled() {
		return nil
	}
	if _, err := os.Lstat(path); err != nil {
		if ignoreMissing && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	log.Debug().Str("path", path).Msg("no policy database available, skipping default SELinux relabel")
	return nil
}
