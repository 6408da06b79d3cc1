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

// ClonePrivateFrom deep-copies the top-level subtree of src containing addr
// into p. Every table frame on the copied paths is freshly allocated, so the
// two hierarchies can be torn down independently.
//
// Leaf pages are shared or copied by permission: read-only leaves alias the
// source frame (the cached load image retains ownership), writable leaves
// get a fresh frame with the bytes duplicated. CleanPageMaps applies the
// matching rule on teardown, so a clone frees exactly what it allocated
// here.
func (p *PageTables) ClonePrivateFrom(src *PageTables, addr guest.Addr) *kerr.Error {
	i := levelIndex(addr, numLevels)
	srcEntry := src.table(src.root).get(i)
	if !srcEntry.Valid() {
		return kerr.ErrNoSuchEntry
	}
	child, err := p.clonePageMap(src, srcEntry.Frame(), numLevels-1)
	if err != nil {
		return err
	}
	p.table(p.root).set(i, srcEntry&^pteAddrMask|PTE(child.Addr()))
	return nil
}

// clonePageMap copies one table and everything beneath it, returning the
// new table frame.
func (p *PageTables) clonePageMap(src *PageTables, srcFrame guest.FrameID, level int) (guest.FrameID, *kerr.Error) {
	dstFrame, err := p.newTable()
	if err != nil {
		return guest.NullFrame, err
	}
	st, dt := src.table(srcFrame), p.table(dstFrame)
	for i := 0; i < guest.PageTableEntries; i++ {
		entry := st.get(i)
		if !entry.Valid() {
			continue
		}
		if level > 1 {
			child, err := p.clonePageMap(src, entry.Frame(), level-1)
			if err != nil {
				return guest.NullFrame, err
			}
			dt.set(i, entry&^pteAddrMask|PTE(child.Addr()))
			continue
		}
		if !entry.Writable() {
			// Shared with the source image.
			dt.set(i, entry)
			continue
		}
		f, aerr := p.alloc.Allocate(1)
		if aerr != nil {
			return guest.NullFrame, aerr
		}
		copy(p.mem.Frame(f), src.mem.Frame(entry.Frame()))
		dt.set(i, entry&^pteAddrMask|PTE(f.Addr()))
	}
	return dstFrame, nil
}
