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

package guest

import "fmt"

// Memory is the guest's physical memory. One instance is constructed at
// kernel init and threaded through every subsystem; there is no process-wide
// singleton, so tests can hold multiple independent guests.
type Memory struct {
	bytes []byte
}

// NewMemory returns guest physical memory of the given size, rounded up to a
// whole number of frames. The contents are zero.
func NewMemory(size uint64) *Memory {
	frames := (size + PageSize - 1) / PageSize
	return &Memory{bytes: make([]byte, frames*PageSize)}
}

// Size returns the total size in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.bytes)) }

// Frames returns the total number of frames.
func (m *Memory) Frames() uint64 { return uint64(len(m.bytes)) / PageSize }

// Frame returns the PageSize byte window of the given frame. The slice
// aliases guest memory; writes through it are guest-visible immediately.
func (m *Memory) Frame(f FrameID) []byte {
	base := uint64(f) * PageSize
	if base+PageSize > uint64(len(m.bytes)) {
		panic(fmt.Sprintf("guest: frame %d outside physical memory (%d frames)", f, m.Frames()))
	}
	return m.bytes[base : base+PageSize : base+PageSize]
}

// ZeroFrame clears the given frame.
func (m *Memory) ZeroFrame(f FrameID) {
	b := m.Frame(f)
	clear(b)
}
