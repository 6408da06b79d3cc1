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

// Package guest models the guest machine's physical memory and address
// arithmetic. Physical memory is a flat byte slab divided into 4 KiB frames;
// everything above this package (allocator, page tables, loader) deals in
// FrameIDs and Addrs rather than host pointers.
package guest

const (
	// PageShift is log2(PageSize).
	PageShift = 12

	// PageSize is the size of one frame and one bottom-level page.
	PageSize = 1 << PageShift

	// HugePageSize is the size of a second-level (2 MiB) leaf page.
	HugePageSize = PageSize << 9

	// PageTableEntries is the number of entries in one table of any level.
	PageTableEntries = 512
)

// FrameID identifies one physical frame. The frame's physical address is
// FrameID × PageSize. It is a pure identity and carries no ownership.
type FrameID uint64

// NullFrame is the reserved "no frame" value.
const NullFrame FrameID = ^FrameID(0)

// Addr returns the physical address of the first byte of the frame.
func (f FrameID) Addr() Addr { return Addr(f) << PageShift }

// FrameContaining returns the frame holding the given physical address.
func FrameContaining(addr Addr) FrameID { return FrameID(addr >> PageShift) }
