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

// Package boot carries the loader-provided boot information: the firmware
// memory map and the boot configuration. Both are consumed exactly once at
// kernel init.
package boot

import (
	"minos.dev/minos/pkg/frame"
	"minos.dev/minos/pkg/guest"
)

// MemoryType classifies one firmware memory-map region.
type MemoryType uint32

// Firmware region types, following the UEFI descriptor types the loader
// hands over.
const (
	MemoryReserved MemoryType = iota
	MemoryLoaderCode
	MemoryLoaderData
	MemoryBootServicesCode
	MemoryBootServicesData
	MemoryRuntimeServicesCode
	MemoryRuntimeServicesData
	MemoryConventional
	MemoryUnusable
	MemoryACPIReclaim
	MemoryACPINVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	MemoryPalCode
	MemoryPersistent
)

// IsAvailable reports whether the region is reusable by the kernel once boot
// services have exited.
func (t MemoryType) IsAvailable() bool {
	switch t {
	case MemoryBootServicesCode, MemoryBootServicesData, MemoryConventional:
		return true
	}
	return false
}

// Descriptor describes one contiguous physical region of the firmware
// memory map.
type Descriptor struct {
	// Type classifies the region.
	Type MemoryType

	// PhysicalStart is the first byte of the region. Page-aligned.
	PhysicalStart guest.Addr

	// NumberOfPages is the region length in 4 KiB pages.
	NumberOfPages uint64
}

// End returns one past the last byte of the region.
func (d Descriptor) End() guest.Addr {
	return d.PhysicalStart + guest.Addr(d.NumberOfPages*guest.PageSize)
}

// InitializeFrameAllocator walks the memory map once and reserves, in the
// allocator, every range the firmware does not hand back: gaps between
// descriptors and regions whose type is not reusable. It then restricts the
// allocation window to [1, end of the last available region), keeping frame
// 0 out of circulation.
func InitializeFrameAllocator(alloc *frame.Allocator, memmap []Descriptor) {
	var availableEnd guest.Addr
	for _, d := range memmap {
		if availableEnd < d.PhysicalStart {
			alloc.MarkAllocated(
				guest.FrameContaining(availableEnd),
				uint64(d.PhysicalStart-availableEnd)/guest.PageSize)
		}
		if d.Type.IsAvailable() {
			availableEnd = d.End()
		} else {
			alloc.MarkAllocated(guest.FrameContaining(d.PhysicalStart), d.NumberOfPages)
		}
	}
	alloc.SetMemoryRange(1, guest.FrameContaining(availableEnd))
}
