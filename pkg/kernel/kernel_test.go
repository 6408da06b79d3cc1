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

package kernel

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/boot"
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/loader/elftest"
	"minos.dev/minos/pkg/vm"
)

func newKernel(t *testing.T) *Kernel {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	k, err := New(boot.DefaultConfig(), log)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return k
}

// countingFile wraps a File and counts Load calls.
type countingFile struct {
	kfs.File
	loads int
}

func (c *countingFile) Load(p []byte, offset int64) (int, error) {
	c.loads++
	return c.File.Load(p, offset)
}

func testBinary() []byte {
	base := uint64(vm.CanonicalUserBase)
	return elftest.Build(base, 2,
		elftest.Segment{Vaddr: base, Data: bytes.Repeat([]byte{0x90}, 64)},
		elftest.Segment{Vaddr: base + 0x1000, Data: []byte("data"), Memsz: guest.PageSize, Writable: true},
	)
}

// TestExecuteFile drives a whole launch: argument marshaling, stdio
// inheritance, the heap and file-mapping syscalls with their faults, and
// teardown accounting. The installed boundary function plays the user
// program.
func TestExecuteFile(t *testing.T) {
	k := newKernel(t)
	stdout := &bytes.Buffer{}
	k.Tasks().CurrentTask().SetFiles([]kfs.FD{
		&kfs.StreamFD{},
		&kfs.StreamFD{W: stdout},
		&kfs.StreamFD{W: stdout},
	})

	payload := bytes.Repeat([]byte("mapped-bytes "), 20)
	k.RegisterFile(kfs.NewMemFile("data.txt", payload))

	ran := false
	k.SetCallApp(func(argc int, argv guest.Addr, cs uint64, entry guest.Addr, rsp guest.Addr, osStackPtr *uint64) int32 {
		ran = true
		*osStackPtr = 0xbaad_57ac
		if cs != UserCS {
			t.Errorf("cs = %#x, want %#x", cs, UserCS)
		}
		if entry != vm.CanonicalUserBase {
			t.Errorf("entry = %v, want %v", entry, vm.CanonicalUserBase)
		}
		if rsp != vm.InitialStackPointer {
			t.Errorf("rsp = %v, want %v", rsp, vm.InitialStackPointer)
		}

		task := k.Tasks().CurrentTask()
		pt := task.Space().PageTables()

		// argv[1] must be the marshaled argument.
		if argc != 2 {
			t.Errorf("argc = %d, want 2", argc)
		}
		ptrs := make([]byte, 16)
		if err := pt.CopyIn(argv, ptrs); err != nil {
			t.Fatalf("CopyIn(argv) failed: %v", err)
		}
		arg := make([]byte, 6)
		if err := pt.CopyIn(guest.Addr(binary.LittleEndian.Uint64(ptrs[8:])), arg); err != nil {
			t.Fatalf("CopyIn(argv[1]) failed: %v", err)
		}
		if string(arg) != "hello\x00" {
			t.Errorf("argv[1] = %q, want %q", arg, "hello\x00")
		}

		// Write to stdout through the descriptor inherited as fd 1.
		msg := []byte("hello from ring 3\n")
		if err := pt.CopyOut(vm.StackBase, msg); err != nil {
			t.Fatalf("CopyOut(msg) failed: %v", err)
		}
		if n, err := k.Syscall(SysPutString, 1, uint64(vm.StackBase), uint64(len(msg)), 0); err != nil || n != uint64(len(msg)) {
			t.Errorf("PutString = (%d, %v), want (%d, nil)", n, err, len(msg))
		}

		// Grow the heap and touch it: the first access faults in a zero
		// page.
		hv, err := k.Syscall(SysDemandPages, 2, 0, 0, 0)
		if err != nil {
			t.Fatalf("DemandPages failed: %v", err)
		}
		heap := guest.Addr(hv)
		if ferr := k.PageFault(0, heap); ferr != nil {
			t.Fatalf("heap fault failed: %v", ferr)
		}
		zero := make([]byte, 64)
		if err := pt.CopyIn(heap, zero); err != nil {
			t.Fatalf("CopyIn(heap) failed: %v", err)
		}
		if !bytes.Equal(zero, make([]byte, 64)) {
			t.Error("fresh heap page is not zero-filled")
		}

		// Open the registered file and map it.
		path := []byte("data.txt")
		pathAddr := vm.StackBase + 0x100
		if err := pt.CopyOut(pathAddr, path); err != nil {
			t.Fatalf("CopyOut(path) failed: %v", err)
		}
		if _, err := k.Syscall(SysOpenFile, uint64(pathAddr)+100, uint64(len(path)), 0, 0); err != kerr.ErrNoSuchEntry {
			t.Errorf("OpenFile(garbage) = %v, want ErrNoSuchEntry", err)
		}
		fd, err := k.Syscall(SysOpenFile, uint64(pathAddr), uint64(len(path)), 0, 0)
		if err != nil {
			t.Fatalf("OpenFile failed: %v", err)
		}

		sizeSlot := vm.StackBase + 0x200
		mv, err := k.Syscall(SysMapFile, fd, uint64(sizeSlot), 0, 0)
		if err != nil {
			t.Fatalf("MapFile failed: %v", err)
		}
		szb := make([]byte, 8)
		if err := pt.CopyIn(sizeSlot, szb); err != nil {
			t.Fatalf("CopyIn(size) failed: %v", err)
		}
		if got := binary.LittleEndian.Uint64(szb); got != uint64(len(payload)) {
			t.Errorf("mapped size = %d, want %d", got, len(payload))
		}
		maddr := guest.Addr(mv)
		if ferr := k.PageFault(0, maddr); ferr != nil {
			t.Fatalf("file-mapping fault failed: %v", ferr)
		}
		window := make([]byte, len(payload))
		if len(window) > guest.PageSize {
			window = window[:guest.PageSize]
		}
		if err := pt.CopyIn(maddr, window); err != nil {
			t.Fatalf("CopyIn(mapping) failed: %v", err)
		}
		if !bytes.Equal(window, payload[:len(window)]) {
			t.Error("mapped bytes differ from the file")
		}

		// Sequential read through the same descriptor.
		rbuf := vm.StackBase + 0x300
		if n, err := k.Syscall(SysReadFile, fd, uint64(rbuf), 6, 0); err != nil || n != 6 {
			t.Fatalf("ReadFile = (%d, %v), want (6, nil)", n, err)
		}
		head := make([]byte, 6)
		if err := pt.CopyIn(rbuf, head); err != nil {
			t.Fatalf("CopyIn(read buffer) failed: %v", err)
		}
		if !bytes.Equal(head, payload[:6]) {
			t.Errorf("ReadFile bytes = %q, want %q", head, payload[:6])
		}

		if tick, err := k.Syscall(SysGetCurrentTick, 0, 0, 0, 0); err != nil || tick != k.Timers().CurrentTick() {
			t.Errorf("GetCurrentTick = (%d, %v)", tick, err)
		}

		// Exit returns the stashed kernel stack pointer for the unwind.
		rv, err := k.Syscall(SysExit, 42, 0, 0, 0)
		if err != nil {
			t.Fatalf("Exit failed: %v", err)
		}
		if rv != 0xbaad_57ac {
			t.Errorf("Exit returned %#x, want the stashed stack pointer", rv)
		}
		return 42
	})

	before := k.Allocator().Stat().AllocatedFrames
	code, err := k.ExecuteFile(kfs.NewMemFile("app", testBinary()), "app", []string{"hello"})
	if err != nil {
		t.Fatalf("ExecuteFile failed: %v", err)
	}
	if !ran {
		t.Fatal("boundary function never ran")
	}
	if code != 42 {
		t.Errorf("exit code = %d, want 42", code)
	}
	if got := stdout.String(); got != "hello from ring 3\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := k.Allocator().Stat().AllocatedFrames; got != before {
		t.Errorf("AllocatedFrames = %d after teardown, want %d", got, before)
	}
}

func TestExecuteFileReusesCachedImage(t *testing.T) {
	k := newKernel(t)
	k.Tasks().CurrentTask().SetFiles(make([]kfs.FD, 3))
	k.SetCallApp(func(argc int, argv guest.Addr, cs uint64, entry guest.Addr, rsp guest.Addr, osStackPtr *uint64) int32 {
		return 0
	})

	f := &countingFile{File: kfs.NewMemFile("app", testBinary())}
	if _, err := k.ExecuteFile(f, "app", nil); err != nil {
		t.Fatalf("first ExecuteFile failed: %v", err)
	}
	loads := f.loads
	before := k.Allocator().Stat().AllocatedFrames
	if _, err := k.ExecuteFile(f, "app", nil); err != nil {
		t.Fatalf("second ExecuteFile failed: %v", err)
	}
	if f.loads != loads {
		t.Errorf("second launch re-read the executable (%d loads, want %d)", f.loads, loads)
	}
	if got := k.Allocator().Stat().AllocatedFrames; got != before {
		t.Errorf("AllocatedFrames = %d, want %d", got, before)
	}
}

func TestExecuteFileRejections(t *testing.T) {
	k := newKernel(t)
	k.Tasks().CurrentTask().SetFiles(make([]kfs.FD, 3))

	// No boundary function installed.
	if _, err := k.ExecuteFile(kfs.NewMemFile("app", testBinary()), "app", nil); err != kerr.ErrUnsupported {
		t.Errorf("ExecuteFile without boundary = %v, want ErrUnsupported", err)
	}

	k.SetCallApp(func(argc int, argv guest.Addr, cs uint64, entry guest.Addr, rsp guest.Addr, osStackPtr *uint64) int32 {
		t.Error("boundary function ran for a rejected executable")
		return 0
	})
	before := k.Allocator().Stat().AllocatedFrames
	if _, err := k.ExecuteFile(kfs.NewMemFile("junk", []byte("not an elf")), "junk", nil); err != kerr.ErrInvalidFile {
		t.Errorf("ExecuteFile(junk) = %v, want ErrInvalidFile", err)
	}
	if got := k.Allocator().Stat().AllocatedFrames; got != before {
		t.Errorf("AllocatedFrames = %d after rejected launch, want %d", got, before)
	}
}

func TestSyscallDispatch(t *testing.T) {
	k := newKernel(t)

	if _, err := k.Syscall(0x1234, 0, 0, 0, 0); err != kerr.ErrUnsupported {
		t.Errorf("non-syscall number = %v, want ErrUnsupported", err)
	}
	if _, err := k.Syscall(0x8000_0000+uint64(len(syscallTable)), 0, 0, 0, 0); err != kerr.ErrUnsupported {
		t.Errorf("out-of-table number = %v, want ErrUnsupported", err)
	}
	if _, err := k.Syscall(SysPutString, 7, 0, 0, 0); err != kerr.ErrBadFD {
		t.Errorf("PutString(bad fd) = %v, want ErrBadFD", err)
	}
	if _, err := k.Syscall(SysLogString, 99, 0, 0, 0); err != kerr.ErrUnsupported {
		t.Errorf("LogString(bad level) = %v, want ErrUnsupported", err)
	}

	// The boot task has no address space; memory syscalls must reject it
	// rather than crash.
	if _, err := k.Syscall(SysDemandPages, 1, 0, 0, 0); err != kerr.ErrUnsupported {
		t.Errorf("DemandPages without a space = %v, want ErrUnsupported", err)
	}
	k.Tasks().CurrentTask().SetFiles([]kfs.FD{kfs.NewFileFD(kfs.NewMemFile("f", []byte("x")))})
	if _, err := k.Syscall(SysMapFile, 0, 0, 0, 0); err != kerr.ErrUnsupported {
		t.Errorf("MapFile without a space = %v, want ErrUnsupported", err)
	}
}
