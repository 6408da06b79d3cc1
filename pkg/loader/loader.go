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

// Package loader parses user-mode ELF executables and materializes their
// segments into address spaces.
//
// The private page tables built on the first launch of a given executable
// are retained for the kernel's lifetime as a cached load image, keyed by
// file identity; later launches clone the cached entries into a fresh root
// instead of re-parsing the ELF. The cache is never evicted — an accepted
// simplification.
package loader

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"minos.dev/minos/pkg/frame"
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/pagetables"
	"minos.dev/minos/pkg/vm"
)

// AppImage is one cached load image: the pristine private tables of an
// executable plus its launch parameters. The tables are cloned into tasks
// and never installed or mutated after the build.
type AppImage struct {
	// PT holds the segment mappings. Read-only leaves are shared with every
	// clone; writable leaves are duplicated per clone.
	PT *pagetables.PageTables

	// End is one past the highest loaded address.
	End guest.Addr

	// Entry is the program entry point.
	Entry guest.Addr
}

// LaunchInfo is what exec needs after LoadApp: the end-of-image address and
// the entry point. The root is the task space's own.
type LaunchInfo struct {
	End   guest.Addr
	Entry guest.Addr
}

// Loader loads executables and owns the cached-load-image table.
type Loader struct {
	mem   *guest.Memory
	alloc *frame.Allocator
	log   logrus.FieldLogger

	// mu protects images.
	mu sync.Mutex

	// images maps file identity to its cached load image.
	images map[string]*AppImage

	// building collapses concurrent first launches of the same executable
	// into a single image build.
	building singleflight.Group
}

// New returns an empty loader.
func New(mem *guest.Memory, alloc *frame.Allocator, log logrus.FieldLogger) *Loader {
	return &Loader{
		mem:    mem,
		alloc:  alloc,
		log:    log,
		images: make(map[string]*AppImage),
	}
}

// LoadApp materializes the executable into the task's address space. On a
// cache hit the cached private entries are cloned into the space's root; on
// a miss the ELF is parsed and copied into a fresh cached image first, then
// cloned, keeping the cache pristine.
func (l *Loader) LoadApp(f kfs.File, s *vm.Space) (LaunchInfo, *kerr.Error) {
	img, err := l.image(f)
	if err != nil {
		return LaunchInfo{}, err
	}
	if err := s.PageTables().ClonePrivateFrom(img.PT, vm.CanonicalUserBase); err != nil {
		return LaunchInfo{}, err
	}
	return LaunchInfo{End: img.End, Entry: img.Entry}, nil
}

// image returns the cached load image for f, building it on first use.
func (l *Loader) image(f kfs.File) (*AppImage, *kerr.Error) {
	key := f.Identity()
	l.mu.Lock()
	img, ok := l.images[key]
	l.mu.Unlock()
	if ok {
		return img, nil
	}

	v, err, _ := l.building.Do(key, func() (any, error) {
		img, err := l.buildImage(f)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.images[key] = img
		l.mu.Unlock()
		return img, nil
	})
	if err != nil {
		if ke, ok := err.(*kerr.Error); ok {
			return nil, ke
		}
		return nil, kerr.ErrInvalidFile
	}
	return v.(*AppImage), nil
}

// buildImage reads the whole file and copies every loadable segment into a
// fresh private hierarchy.
func (l *Loader) buildImage(f kfs.File) (*AppImage, *kerr.Error) {
	image := make([]byte, f.Size())
	if _, err := f.Load(image, 0); err != nil {
		l.log.WithField("file", f.Identity()).WithError(err).Error("reading executable")
		return nil, kerr.ErrInvalidFile
	}
	ef, perr := parseELF(image)
	if perr != nil {
		return nil, perr
	}

	pt, err := pagetables.New(l.mem, l.alloc)
	if err != nil {
		return nil, err
	}
	for _, ph := range ef.phdrs {
		if ph.Type != PT_LOAD {
			continue
		}
		if err := l.copySegment(pt, image, ph); err != nil {
			// The image was never cached, so nothing else frees the
			// partial hierarchy. It owns its read-only leaves too.
			if cerr := pt.FreePageMaps(vm.CanonicalUserBase); cerr != nil && cerr != kerr.ErrNoSuchEntry {
				l.log.WithField("file", f.Identity()).WithError(cerr).Error("reclaiming partial load image")
			}
			pt.FreeRoot()
			return nil, err
		}
	}
	l.log.WithFields(logrus.Fields{
		"file":  f.Identity(),
		"entry": guest.Addr(ef.hdr.Entry),
		"end":   ef.lastAddr(),
	}).Info("cached new load image")
	return &AppImage{
		PT:    pt,
		End:   ef.lastAddr(),
		Entry: guest.Addr(ef.hdr.Entry),
	}, nil
}

// copySegment maps the pages covering one loadable segment and copies its
// file bytes in. Fresh frames are zeroed, so the tail where memory size
// exceeds file size needs no explicit fill.
func (l *Loader) copySegment(pt *pagetables.PageTables, image []byte, ph ProgHeader) *kerr.Error {
	vaddr := guest.Addr(ph.Vaddr)
	pageBegin := vaddr.RoundDown()
	numPages := int((uint64(vaddr.PageOffset()) + ph.Memsz + guest.PageSize - 1) / guest.PageSize)
	writable := ph.Flags&PF_W != 0
	if err := pt.SetupPageMaps(pageBegin, numPages, writable); err != nil {
		return err
	}
	if ph.Filesz == 0 {
		return nil
	}
	if ph.Off+ph.Filesz > uint64(len(image)) {
		return kerr.ErrInvalidFile
	}
	return pt.CopyOut(vaddr, image[ph.Off:ph.Off+ph.Filesz])
}
