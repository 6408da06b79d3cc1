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

package loader

import (
	"bytes"
	"encoding/binary"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/vm"
)

// ELF constants, limited to what a statically-linked executable needs.
const (
	// ET_EXEC is the only accepted executable type; anything else (shared
	// objects, relocatables, core files) is rejected.
	ET_EXEC uint16 = 2

	// PT_LOAD marks a loadable program segment.
	PT_LOAD uint32 = 1

	// PF_W marks a writable segment.
	PF_W uint32 = 2
)

// elfMagic is the four identification bytes opening every ELF file.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// FileHeader is the ELF64 file header in its on-disk layout.
type FileHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// ProgHeader is the ELF64 program header in its on-disk layout.
type ProgHeader struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// elfFile is a parsed executable image.
type elfFile struct {
	hdr   FileHeader
	phdrs []ProgHeader
}

// parseELF validates and parses an executable image.
//
// Non-ELF content fails ErrInvalidFile; well-formed ELF that is not a
// statically-linked executable, or whose first loadable segment begins below
// the canonical user-space boundary, fails ErrInvalidFormat. There is no
// flat-binary fallback.
func parseELF(image []byte) (*elfFile, *kerr.Error) {
	if len(image) < 16 || !bytes.Equal(image[:4], elfMagic) {
		return nil, kerr.ErrInvalidFile
	}
	f := &elfFile{}
	r := bytes.NewReader(image)
	if err := binary.Read(r, binary.LittleEndian, &f.hdr); err != nil {
		return nil, kerr.ErrInvalidFile
	}
	if f.hdr.Type != ET_EXEC {
		return nil, kerr.ErrInvalidFormat
	}
	end := int64(f.hdr.Phoff) + int64(f.hdr.Phnum)*int64(f.hdr.Phentsize)
	if f.hdr.Phentsize < 56 || end > int64(len(image)) {
		return nil, kerr.ErrInvalidFile
	}
	for i := 0; i < int(f.hdr.Phnum); i++ {
		var ph ProgHeader
		off := int64(f.hdr.Phoff) + int64(i)*int64(f.hdr.Phentsize)
		pr := bytes.NewReader(image[off:])
		if err := binary.Read(pr, binary.LittleEndian, &ph); err != nil {
			return nil, kerr.ErrInvalidFile
		}
		f.phdrs = append(f.phdrs, ph)
	}
	for _, ph := range f.phdrs {
		if ph.Type != PT_LOAD {
			continue
		}
		if guest.Addr(ph.Vaddr) < vm.CanonicalUserBase {
			return nil, kerr.ErrInvalidFormat
		}
		break
	}
	return f, nil
}

// lastAddr returns one past the highest address any loadable segment
// occupies in memory.
func (f *elfFile) lastAddr() guest.Addr {
	var last guest.Addr
	for _, ph := range f.phdrs {
		if ph.Type != PT_LOAD {
			continue
		}
		if end := guest.Addr(ph.Vaddr + ph.Memsz); end > last {
			last = end
		}
	}
	return last
}
