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

// Package kfs defines the boundary to the filesystem collaborator. The
// process/memory core never sees directories or names beyond an identity
// string; all it needs is byte-range reads for file-backed page-in and for
// reading a whole executable image before exec.
package kfs

import (
	"io"
	"os"
)

// File is the byte-range file provider contract.
type File interface {
	// Load reads up to len(p) bytes starting at offset into p. It returns
	// the number of bytes read; n < len(p) with a nil error means the file
	// ended inside the requested window.
	Load(p []byte, offset int64) (n int, err error)

	// Size returns the file length in bytes.
	Size() int64

	// Identity returns a stable key for this file's content, used to key
	// the cached load image. Two handles to the same executable share one
	// identity.
	Identity() string
}

// FD is one open descriptor as the task-level descriptor table sees it.
type FD interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// MemFile is an in-memory File.
type MemFile struct {
	name string
	data []byte
}

// NewMemFile returns a File over the given bytes. name is the identity key.
func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{name: name, data: data}
}

// Load implements File.Load.
func (f *MemFile) Load(p []byte, offset int64) (int, error) {
	if offset >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[offset:]), nil
}

// Size implements File.Size.
func (f *MemFile) Size() int64 { return int64(len(f.data)) }

// Identity implements File.Identity.
func (f *MemFile) Identity() string { return f.name }

// HostFile adapts a host file to the File contract, for the CLI harness.
type HostFile struct {
	f    *os.File
	size int64
}

// OpenHostFile opens path on the host.
func OpenHostFile(path string) (*HostFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &HostFile{f: f, size: st.Size()}, nil
}

// Load implements File.Load.
func (h *HostFile) Load(p []byte, offset int64) (int, error) {
	n, err := h.f.ReadAt(p, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Size implements File.Size.
func (h *HostFile) Size() int64 { return h.size }

// Identity implements File.Identity.
func (h *HostFile) Identity() string { return h.f.Name() }

// Close releases the host file.
func (h *HostFile) Close() error { return h.f.Close() }

// StreamFD adapts plain reader/writer streams (terminal pipes, log sinks)
// to the FD contract for stdio slots.
type StreamFD struct {
	R io.Reader
	W io.Writer
}

// Read implements FD.Read.
func (s *StreamFD) Read(p []byte) (int, error) {
	if s.R == nil {
		return 0, io.EOF
	}
	return s.R.Read(p)
}

// Write implements FD.Write.
func (s *StreamFD) Write(p []byte) (int, error) {
	if s.W == nil {
		return len(p), nil
	}
	return s.W.Write(p)
}

// FileFD adapts a File to a sequentially-read descriptor, the shape the
// read syscall hands to user programs.
type FileFD struct {
	file   File
	offset int64
}

// NewFileFD returns a descriptor positioned at the start of f.
func NewFileFD(f File) *FileFD { return &FileFD{file: f} }

// File returns the underlying File.
func (d *FileFD) File() File { return d.file }

// Read implements FD.Read.
func (d *FileFD) Read(p []byte) (int, error) {
	if d.offset >= d.file.Size() {
		return 0, io.EOF
	}
	n, err := d.file.Load(p, d.offset)
	d.offset += int64(n)
	return n, err
}

// Write implements FD.Write. Files from the provider are read-only here.
func (d *FileFD) Write(p []byte) (int, error) {
	return 0, io.ErrClosedPipe
}
