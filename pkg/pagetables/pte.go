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
	"encoding/binary"

	"minos.dev/minos/pkg/guest"
)

// PTE is one slot of one table level, in the hardware bit layout.
type PTE uint64

// Hardware entry bits.
const (
	ptePresent  PTE = 1 << 0
	pteWritable PTE = 1 << 1
	pteUser     PTE = 1 << 2
	pteAccessed PTE = 1 << 5
	pteSuper    PTE = 1 << 7

	// pteAddrMask selects the 4 KiB-aligned frame reference.
	pteAddrMask PTE = 0x000ffffffffff000
)

// Valid returns true iff the entry is present.
func (e PTE) Valid() bool { return e&ptePresent != 0 }

// Writable returns the writable bit.
func (e PTE) Writable() bool { return e&pteWritable != 0 }

// User returns the user-accessible bit.
func (e PTE) User() bool { return e&pteUser != 0 }

// IsSuper returns true iff the entry is a 2 MiB (or 1 GiB) leaf rather than
// a child-table reference.
func (e PTE) IsSuper() bool { return e&pteSuper != 0 }

// Address returns the physical address the entry references.
func (e PTE) Address() guest.Addr { return guest.Addr(e & pteAddrMask) }

// Frame returns the frame the entry references.
func (e PTE) Frame() guest.FrameID { return guest.FrameContaining(e.Address()) }

// withUser returns the entry with the user bit set.
func (e PTE) withUser() PTE { return e | pteUser }

// withWritable returns the entry with the writable bit forced to w.
func (e PTE) withWritable(w bool) PTE {
	if w {
		return e | pteWritable
	}
	return e &^ pteWritable
}

// makeTableEntry builds a present entry referencing a child-table frame.
// Non-leaf entries are always writable so leaf permissions alone decide
// write access.
func makeTableEntry(child guest.FrameID, user bool) PTE {
	e := PTE(child.Addr()) | ptePresent | pteWritable
	if user {
		e |= pteUser
	}
	return e
}

// makeLeafEntry builds a present bottom-level entry referencing a data
// frame.
func makeLeafEntry(f guest.FrameID, writable bool) PTE {
	e := PTE(f.Addr()) | ptePresent | pteUser
	return e.withWritable(writable)
}

// makeSuperEntry builds a present 2 MiB leaf used by the identity map.
func makeSuperEntry(phys guest.Addr, writable bool) PTE {
	e := PTE(phys) | ptePresent | pteSuper
	return e.withWritable(writable)
}

// table is the 512-entry view of one table frame. Entries are stored
// little-endian, as the hardware reads them.
type table struct {
	b []byte
}

func (t table) get(i int) PTE {
	return PTE(binary.LittleEndian.Uint64(t.b[i*8:]))
}

func (t table) set(i int, e PTE) {
	binary.LittleEndian.PutUint64(t.b[i*8:], uint64(e))
}
