// Copyright 2025 The Minos Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pagetables

import (
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

// CleanPageMaps releases the private mapping rooted at the single top-level
// entry containing addr: every present child frame beneath it is freed in
// post-order (children before the table that held them), then the entry's
// own child-table frame, then the entry is cleared.
//
// Bottom-level frames are freed only when their entry is writable. Read-only
// leaves are shared with the cached load image of the executable and remain
// owned by the cache.
//
// The caller owns exactly one top-level entry per call. Layouts with private
// entries the caller does not name are unsupported; HasOtherPrivateEntries
// exists so teardown can flag them instead of guessing.
func (p *PageTables) CleanPageMaps(addr guest.Addr) *kerr.Error {
	return p.cleanTopEntry(addr, false)
}

// FreePageMaps releases the mapping rooted at the top-level entry
// containing addr, including read-only leaf frames. It is for hierarchies
// that own every leaf: a cached load image being dropped, or a partial
// build that was never shared.
func (p *PageTables) FreePageMaps(addr guest.Addr) *kerr.Error {
	return p.cleanTopEntry(addr, true)
}

func (p *PageTables) cleanTopEntry(addr guest.Addr, freeReadOnly bool) *kerr.Error {
	root := p.table(p.root)
	i := levelIndex(addr, numLevels)
	entry := root.get(i)
	if !entry.Valid() {
		return kerr.ErrNoSuchEntry
	}
	p.cleanPageMap(entry.Frame(), numLevels-1, freeReadOnly)
	p.alloc.Free(entry.Frame(), 1)
	root.set(i, 0)
	return nil
}

// cleanPageMap frees everything beneath one table, leaving the table frame
// itself to the caller.
func (p *PageTables) cleanPageMap(tableFrame guest.FrameID, level int, freeReadOnly bool) {
	t := p.table(tableFrame)
	for i := 0; i < guest.PageTableEntries; i++ {
		entry := t.get(i)
		if !entry.Valid() {
			continue
		}
		if level > 1 && !entry.IsSuper() {
			p.cleanPageMap(entry.Frame(), level-1, freeReadOnly)
			p.alloc.Free(entry.Frame(), 1)
		} else if !entry.IsSuper() && (freeReadOnly || entry.Writable()) {
			p.alloc.Free(entry.Frame(), 1)
		}
		t.set(i, 0)
	}
}

// HasOtherPrivateEntries reports whether any present user-accessible
// top-level entry exists besides the ones whose indices are listed in owned.
// Kernel-shared lower-half entries never carry the user bit and are ignored.
func (p *PageTables) HasOtherPrivateEntries(owned ...guest.Addr) bool {
	ownedIdx := make(map[int]bool, len(owned))
	for _, a := range owned {
		ownedIdx[levelIndex(a, numLevels)] = true
	}
	root := p.table(p.root)
	for i := LowerHalfEntries; i < guest.PageTableEntries; i++ {
		if e := root.get(i); e.Valid() && e.User() && !ownedIdx[i] {
			return true
		}
	}
	return false
}
