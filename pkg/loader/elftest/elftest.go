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

// Package elftest builds minimal ELF64 executables in memory for tests of
// the loader and exec pipeline.
package elftest

import "encoding/binary"

// Segment describes one loadable segment of a synthetic executable.
type Segment struct {
	// Vaddr is the segment's virtual load address.
	Vaddr uint64

	// Data is the segment's file content.
	Data []byte

	// Memsz is the in-memory size; if larger than len(Data) the tail is
	// zero-filled by the loader. Zero means len(Data).
	Memsz uint64

	// Writable sets PF_W.
	Writable bool
}

const (
	ehsize    = 64
	phentsize = 56
)

// Build assembles a statically-linked ELF64 executable with the given entry
// point and segments.
func Build(entry uint64, typ uint16, segs ...Segment) []byte {
	phoff := uint64(ehsize)
	dataOff := phoff + uint64(len(segs))*phentsize

	var hdr [ehsize]byte
	copy(hdr[:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	le := binary.LittleEndian
	le.PutUint16(hdr[16:], typ)    // e_type
	le.PutUint16(hdr[18:], 0x3e)   // e_machine: EM_X86_64
	le.PutUint32(hdr[20:], 1)      // e_version
	le.PutUint64(hdr[24:], entry)  // e_entry
	le.PutUint64(hdr[32:], phoff)  // e_phoff
	le.PutUint16(hdr[52:], ehsize) // e_ehsize
	le.PutUint16(hdr[54:], phentsize)
	le.PutUint16(hdr[56:], uint16(len(segs))) // e_phnum

	out := hdr[:]
	off := dataOff
	for _, s := range segs {
		memsz := s.Memsz
		if memsz == 0 {
			memsz = uint64(len(s.Data))
		}
		flags := uint32(1 | 4) // PF_X|PF_R
		if s.Writable {
			flags |= 2
		}
		var ph [phentsize]byte
		le.PutUint32(ph[0:], 1) // PT_LOAD
		le.PutUint32(ph[4:], flags)
		le.PutUint64(ph[8:], off)
		le.PutUint64(ph[16:], s.Vaddr)
		le.PutUint64(ph[24:], s.Vaddr)
		le.PutUint64(ph[32:], uint64(len(s.Data)))
		le.PutUint64(ph[40:], memsz)
		le.PutUint64(ph[48:], 0x1000)
		out = append(out, ph[:]...)
		off += uint64(len(s.Data))
	}
	for _, s := range segs {
		out = append(out, s.Data...)
	}
	return out
}
