// Copyright 2024 The tskv Authors
// This file is part of tskv.
//
// tskv is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// tskv is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with tskv. If not, see <http://www.gnu.org/licenses/>.

package version

import (
	"github.com/cnosdb/tskv/common"
	"github.com/cnosdb/tskv/memcache"
)

// SuperVersion pins the cache and file-set state a single read sees: the
// ts-family's live cache (not a copy; writes after the pin stay visible
// through it) plus the current Version's reference. A read takes exactly one SuperVersion and releases it when
// done so file reclaim isn't blocked longer than necessary.
type SuperVersion struct {
	TsFamilyID common.TseriesFamilyId
	Cache      *memcache.Cache
	Version    *Version
}

// Release drops the pinned Version's reference count. Safe to call once;
// callers must not reuse a SuperVersion after releasing it.
func (sv *SuperVersion) Release() {
	if sv == nil || sv.Version == nil {
		return
	}
	sv.Version.Release()
}
