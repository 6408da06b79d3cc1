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

// Package vm owns per-task virtual address spaces: creation sharing the
// kernel half, the demand-paging range, file-backed mappings, the page-fault
// decision table, and teardown back to the frame allocator.
package vm

import (
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/frame"
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/pagetables"
)

// FileMapping describes one lazily paged-in file region, consulted only on
// page fault.
type FileMapping struct {
	// File backs the region.
	File kfs.File

	// Begin is the first mapped address. Page-aligned.
	Begin guest.Addr

	// End is one past the last mapped address.
	End guest.Addr
}

func mappingLess(a, b FileMapping) bool { return a.Begin < b.Begin }

// Space is one task's virtual address space.
type Space struct {
	mem   *guest.Memory
	alloc *frame.Allocator
	pt    *pagetables.PageTables
	log   logrus.FieldLogger

	// dpagingBegin/dpagingEnd bound the demand-paging heap range. A fault
	// strictly inside [dpagingBegin, dpagingEnd) grows the heap by one
	// zero-filled page.
	dpagingBegin guest.Addr
	dpagingEnd   guest.Addr

	// fileMapEnd is the file-map region tail; new mappings are carved
	// downward from it.
	fileMapEnd guest.Addr

	// maps holds the active file mappings ordered by Begin.
	maps *btree.BTreeG[FileMapping]
}

// NewSpace builds a fresh address space: a new root table with the
// kernel-shared lower-half entries copied from kernelPT.
func NewSpace(mem *guest.Memory, alloc *frame.Allocator, kernelPT *pagetables.PageTables, log logrus.FieldLogger) (*Space, *kerr.Error) {
	pt, err := pagetables.NewSharingKernel(kernelPT)
	if err != nil {
		return nil, err
	}
	return &Space{
		mem:        mem,
		alloc:      alloc,
		pt:         pt,
		log:        log,
		fileMapEnd: StackBase,
		maps:       btree.NewG(2, mappingLess),
	}, nil
}

// PageTables returns the space's translation hierarchy.
func (s *Space) PageTables() *pagetables.PageTables { return s.pt }

// Root returns the root table frame, the task's CR3 value.
func (s *Space) Root() guest.FrameID { return s.pt.Root() }

// SetDemandPagingRange initializes the lazy heap range. Called once by exec,
// with a page-aligned begin and zero length.
func (s *Space) SetDemandPagingRange(begin, end guest.Addr) {
	s.dpagingBegin = begin
	s.dpagingEnd = end
}

// DemandPagingRange returns the current heap range.
func (s *Space) DemandPagingRange() (begin, end guest.Addr) {
	return s.dpagingBegin, s.dpagingEnd
}

// ExpandDemandPages grows the demand-paging range by numPages pages and
// returns the first address of the new portion. No frames are allocated
// here; first touch faults them in.
func (s *Space) ExpandDemandPages(numPages uint64) guest.Addr {
	begin := s.dpagingEnd
	s.dpagingEnd += guest.Addr(numPages * guest.PageSize)
	return begin
}

// AddFileMapping carves length bytes (page-rounded) off the file-map region
// tail and registers the mapping. Returns the mapped range; pages fill in
// lazily on fault.
func (s *Space) AddFileMapping(f kfs.File, length uint64) (begin, end guest.Addr) {
	end = s.fileMapEnd
	begin = (end - guest.Addr(length)).RoundDown()
	s.fileMapEnd = begin
	s.maps.ReplaceOrInsert(FileMapping{File: f, Begin: begin, End: end})
	return begin, end
}

// FileMapEnd returns the current file-map region tail.
func (s *Space) FileMapEnd() guest.Addr { return s.fileMapEnd }

// findFileMapping returns the mapping containing addr.
func (s *Space) findFileMapping(addr guest.Addr) (FileMapping, bool) {
	var m FileMapping
	var found bool
	s.maps.DescendLessOrEqual(FileMapping{Begin: addr}, func(item FileMapping) bool {
		m, found = item, addr < item.End
		return false
	})
	return m, found
}

// ClearFileMaps drops every registered mapping and resets the region tail.
// Mapped frames are reclaimed by Destroy, not here.
func (s *Space) ClearFileMaps() {
	s.maps.Clear(false)
	s.fileMapEnd = StackBase
}

// Destroy unmaps and frees every private table and frame beneath the named
// top-level entries, then frees the root table. If any private entry
// remains that the caller did not name, the layout is unsupported and
// Destroy reports it after freeing what it can.
func (s *Space) Destroy(owned ...guest.Addr) *kerr.Error {
	var reterr *kerr.Error
	for _, addr := range owned {
		if err := s.pt.CleanPageMaps(addr); err != nil && err != kerr.ErrNoSuchEntry {
			reterr = err
		}
	}
	if s.pt.HasOtherPrivateEntries(owned...) {
		s.log.WithField("root", s.pt.Root()).Warn("address space has unowned private entries; leaking them")
		reterr = kerr.ErrUnsupported
	}
	s.pt.FreeRoot()
	return reterr
}
