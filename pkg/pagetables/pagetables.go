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

// Package pagetables provides the x86-64 4-level page table hierarchy: one
// root (PML4) frame whose entries own child-table frames down to 4 KiB
// leaves, with 2 MiB super leaves at the second level for the boot identity
// map.
//
// Tables live inside guest physical frames obtained from the frame
// allocator, exactly as on hardware. A present non-leaf entry owns exactly
// one child-table frame, released exactly once at teardown; the recursive
// free in CleanPageMaps relies on that ownership being cycle-free.
package pagetables

import (
	"minos.dev/minos/pkg/frame"
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

const (
	// numLevels is the depth of the hierarchy. Level 4 is the root (PML4),
	// level 1 holds 4 KiB leaf entries.
	numLevels = 4

	// lastIndex is the highest entry index at any level.
	lastIndex = guest.PageTableEntries - 1

	// LowerHalfEntries is the number of root entries mirroring the kernel's
	// identity-mapped region. They are shared across every address space and
	// never freed per task; only entries at or above this index are
	// task-private.
	LowerHalfEntries = guest.PageTableEntries / 2
)

// PageTables represents one 4-level translation hierarchy rooted at a single
// PML4 frame.
type PageTables struct {
	// mem is the guest physical memory holding every table.
	mem *guest.Memory

	// alloc provides and reclaims table and leaf frames.
	alloc *frame.Allocator

	// root is the PML4 frame.
	root guest.FrameID
}

// New allocates a zeroed root table and returns a hierarchy containing
// nothing else.
func New(mem *guest.Memory, alloc *frame.Allocator) (*PageTables, *kerr.Error) {
	p := &PageTables{mem: mem, alloc: alloc}
	root, err := p.newTable()
	if err != nil {
		return nil, err
	}
	p.root = root
	return p, nil
}

// Root returns the PML4 frame, the value a context switch loads into CR3.
func (p *PageTables) Root() guest.FrameID { return p.root }

// FreeRoot releases the root table frame. Call only after every private
// top-level entry has been cleaned.
func (p *PageTables) FreeRoot() {
	p.alloc.Free(p.root, 1)
	p.root = guest.NullFrame
}

// newTable allocates one zeroed frame to hold a table.
func (p *PageTables) newTable() (guest.FrameID, *kerr.Error) {
	f, err := p.alloc.Allocate(1)
	if err != nil {
		return guest.NullFrame, err
	}
	p.mem.ZeroFrame(f)
	return f, nil
}

// table returns the entry view of the table stored in frame f.
func (p *PageTables) table(f guest.FrameID) table {
	return table{p.mem.Frame(f)}
}

// levelShift returns the linear-address bit position of the given level's
// 9-bit index.
func levelShift(level int) uint {
	return guest.PageShift + 9*uint(level-1)
}

// levelIndex extracts the given level's table index from a linear address.
// The result is always in [0, 511].
func levelIndex(addr guest.Addr, level int) int {
	return int(addr>>levelShift(level)) & lastIndex
}

// setLevelIndex returns addr with the given level's index replaced by i and
// every lower level's index and the page offset cleared. Bits above the
// level, including the canonical sign extension, are preserved.
func setLevelIndex(addr guest.Addr, level, i int) guest.Addr {
	shift := levelShift(level)
	addr &^= (guest.Addr(1)<<(shift+9) - 1)
	return addr | guest.Addr(i)<<shift
}

// SetupIdentityPageTable builds the static boot mapping where virtual equals
// physical for the first numGiB GiB, using 2 MiB super leaves at the second
// level. The bottom level is skipped entirely, which keeps the map at
// 2+numGiB table frames.
func (p *PageTables) SetupIdentityPageTable(numGiB int) *kerr.Error {
	pdpt, err := p.newTable()
	if err != nil {
		return err
	}
	p.table(p.root).set(0, makeTableEntry(pdpt, false))
	for g := 0; g < numGiB; g++ {
		pd, err := p.newTable()
		if err != nil {
			return err
		}
		p.table(pdpt).set(g, makeTableEntry(pd, false))
		t := p.table(pd)
		for i := 0; i < guest.PageTableEntries; i++ {
			phys := guest.Addr(g)<<30 | guest.Addr(i)<<21
			t.set(i, makeSuperEntry(phys, true))
		}
	}
	return nil
}

// NewSharingKernel allocates a fresh root and copies the kernel-shared
// lower-half entries from src, so the new space translates the identity
// region through the same (never per-task-freed) tables.
func NewSharingKernel(src *PageTables) (*PageTables, *kerr.Error) {
	p, err := New(src.mem, src.alloc)
	if err != nil {
		return nil, err
	}
	st, dt := src.table(src.root), p.table(p.root)
	for i := 0; i < LowerHalfEntries; i++ {
		dt.set(i, st.get(i))
	}
	return p, nil
}
