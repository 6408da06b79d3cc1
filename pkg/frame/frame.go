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

// Package frame implements the physical frame allocator: one bit per frame
// over the whole supported physical range, first-fit allocation of
// consecutive runs.
//
// The allocator takes no lock of its own. It is shared kernel state and every
// mutating call must run inside an interrupt-disabled section owned by the
// caller; see kernel.InterruptGuard.
//
// Known gaps, deliberate: Free clears bits unconditionally, so double frees
// and frees of never-allocated frames are not detected.
package frame

import (
	"math/bits"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

// bitsPerBlock is the number of frames tracked by one bitmap word.
const bitsPerBlock = 64

// Stat reports allocator usage.
type Stat struct {
	// AllocatedFrames is the number of frames currently marked allocated.
	AllocatedFrames uint64

	// TotalFrames is the number of frames the allocator tracks.
	TotalFrames uint64
}

// Allocator tracks every physical frame with one bit and hands out
// first-fit runs of consecutive free frames.
type Allocator struct {
	// allocMap holds one bit per frame, 64 frames per word. A set bit means
	// the frame is allocated.
	allocMap []uint64

	// numAllocated is the number of set bits in allocMap.
	numAllocated uint64

	// totalFrames is the frame count the allocator was built for; the
	// bitmap rounds up to a whole word, this does not.
	totalFrames uint64

	// rangeBegin is the first frame Allocate may return.
	rangeBegin guest.FrameID

	// rangeEnd is one past the last frame Allocate may return.
	rangeEnd guest.FrameID
}

// NewAllocator returns an allocator covering totalFrames frames, all free,
// with the allocation window spanning the whole range.
func NewAllocator(totalFrames uint64) *Allocator {
	return &Allocator{
		allocMap:    make([]uint64, (totalFrames+bitsPerBlock-1)/bitsPerBlock),
		totalFrames: totalFrames,
		rangeEnd:    guest.FrameID(totalFrames),
	}
}

// Allocate finds the first run of numFrames consecutive free frames inside
// the configured range, marks it allocated and returns its first frame.
//
// The scan restarts just past the first blocking allocated frame it meets
// rather than from the range start, giving an amortized single pass over the
// bitmap.
func (a *Allocator) Allocate(numFrames uint64) (guest.FrameID, *kerr.Error) {
	startFrame := uint64(a.rangeBegin)
	for {
		var i uint64
		for ; i < numFrames; i++ {
			if startFrame+i >= uint64(a.rangeEnd) {
				return guest.NullFrame, kerr.ErrNoEnoughMemory
			}
			if a.getBit(guest.FrameID(startFrame + i)) {
				// Frame startFrame+i is taken; the run is dead.
				break
			}
		}
		if i == numFrames {
			a.MarkAllocated(guest.FrameID(startFrame), numFrames)
			return guest.FrameID(startFrame), nil
		}
		// Resume the scan past the blocking frame.
		startFrame += i + 1
	}
}

// Free clears numFrames bits starting at startFrame. The bits are cleared
// unconditionally; freeing a frame that was never allocated is not detected.
func (a *Allocator) Free(startFrame guest.FrameID, numFrames uint64) {
	for i := uint64(0); i < numFrames; i++ {
		a.setBit(startFrame+guest.FrameID(i), false)
	}
}

// MarkAllocated force-sets numFrames bits starting at startFrame regardless
// of their current state. Used at boot to reserve the ranges the firmware
// memory map declares in use.
func (a *Allocator) MarkAllocated(startFrame guest.FrameID, numFrames uint64) {
	for i := uint64(0); i < numFrames; i++ {
		a.setBit(startFrame+guest.FrameID(i), true)
	}
}

// SetMemoryRange restricts future allocation to [rangeBegin, rangeEnd).
// Frames outside the window keep their current bits and remain freeable.
func (a *Allocator) SetMemoryRange(rangeBegin, rangeEnd guest.FrameID) {
	a.rangeBegin = rangeBegin
	a.rangeEnd = rangeEnd
}

// Stat returns the current usage counters.
func (a *Allocator) Stat() Stat {
	return Stat{
		AllocatedFrames: a.numAllocated,
		TotalFrames:     a.totalFrames,
	}
}

func (a *Allocator) getBit(f guest.FrameID) bool {
	block, bit := uint64(f)/bitsPerBlock, uint64(f)%bitsPerBlock
	return a.allocMap[block]&(uint64(1)<<bit) != 0
}

func (a *Allocator) setBit(f guest.FrameID, allocated bool) {
	block, bit := uint64(f)/bitsPerBlock, uint64(f)%bitsPerBlock
	old := a.allocMap[block]
	if allocated {
		a.allocMap[block] = old | uint64(1)<<bit
	} else {
		a.allocMap[block] = old &^ (uint64(1) << bit)
	}
	if d := bits.OnesCount64(a.allocMap[block]) - bits.OnesCount64(old); d != 0 {
		a.numAllocated += uint64(int64(d))
	}
}
