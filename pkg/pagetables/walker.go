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

// Resolve walks the hierarchy for addr and returns the physical address it
// translates to plus the leaf entry. ok is false if any level on the path is
// not present. A 2 MiB super leaf resolves with the low 21 bits carried over
// from addr.
func (p *PageTables) Resolve(addr guest.Addr) (phys guest.Addr, leaf PTE, ok bool) {
	tableFrame := p.root
	for level := numLevels; level >= 1; level-- {
		entry := p.table(tableFrame).get(levelIndex(addr, level))
		if !entry.Valid() {
			return 0, 0, false
		}
		if level == 1 {
			return entry.Address() | guest.Addr(addr.PageOffset()), entry, true
		}
		if entry.IsSuper() {
			// 2 MiB leaf at level 2.
			return entry.Address() | addr&(guest.HugePageSize-1), entry, true
		}
		tableFrame = entry.Frame()
	}
	return 0, 0, false
}

// CopyOut writes b into guest memory at virtual address addr, translating
// page by page. The write is a kernel-mode access: leaf write protection is
// not enforced, matching CR0.WP=0 supervisor semantics.
func (p *PageTables) CopyOut(addr guest.Addr, b []byte) *kerr.Error {
	return p.walkBytes(addr, len(b), func(frameBytes []byte, off int) {
		copy(frameBytes, b[off:])
	})
}

// CopyIn reads len(b) bytes of guest memory at virtual address addr into b.
func (p *PageTables) CopyIn(addr guest.Addr, b []byte) *kerr.Error {
	return p.walkBytes(addr, len(b), func(frameBytes []byte, off int) {
		copy(b[off:], frameBytes)
	})
}

// walkBytes visits the mapped bytes of [addr, addr+length) one page at a
// time. f receives the physical window for the page and the offset of that
// window within the overall range.
func (p *PageTables) walkBytes(addr guest.Addr, length int, f func(frameBytes []byte, off int)) *kerr.Error {
	off := 0
	for off < length {
		phys, _, ok := p.Resolve(addr)
		if !ok {
			return kerr.ErrIndexOutOfRange
		}
		n := guest.PageSize - int(addr.PageOffset())
		if rest := length - off; n > rest {
			n = rest
		}
		fb := p.mem.Frame(guest.FrameContaining(phys))
		start := int(phys.PageOffset())
		f(fb[start:start+n], off)
		off += n
		addr += guest.Addr(n)
	}
	return nil
}
