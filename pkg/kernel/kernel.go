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

// Package kernel ties the memory, paging, loading, and scheduling layers
// into one bootable instance. Nothing here is process-global; every
// subsystem hangs off a Kernel constructed at boot, so independent
// instances coexist under test.
package kernel

import (
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/boot"
	"minos.dev/minos/pkg/frame"
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/loader"
	"minos.dev/minos/pkg/pagetables"
)

// Kernel is one booted machine: guest memory, the frame allocator, the
// shared kernel page tables, the load-image cache, the task table, and
// timers.
type Kernel struct {
	mem   *guest.Memory
	alloc *frame.Allocator
	pt    *pagetables.PageTables

	ints   *Interrupts
	loader *loader.Loader
	tasks  *TaskManager
	timers *TimerManager
	log    logrus.FieldLogger

	// files is the name space OpenFile resolves against.
	files map[string]kfs.File

	// heapBase is the frame run reserved for kernel allocations at boot.
	heapBase   guest.FrameID
	heapFrames uint64

	callApp CallAppFunc
}

// New boots a kernel from the given configuration: sizes guest memory,
// seeds the frame allocator from the firmware memory map, builds the
// identity map, and reserves the kernel heap.
func New(cfg *boot.Config, log logrus.FieldLogger) (*Kernel, *kerr.Error) {
	mem := guest.NewMemory(cfg.MemoryMiB << 20)
	alloc := frame.NewAllocator(mem.Frames())
	boot.InitializeFrameAllocator(alloc, cfg.MemoryMap())

	pt, err := pagetables.New(mem, alloc)
	if err != nil {
		return nil, err
	}
	if err := pt.SetupIdentityPageTable(cfg.IdentityMapGiB); err != nil {
		return nil, err
	}

	heapBase, err := alloc.Allocate(cfg.KernelHeapFrames)
	if err != nil {
		return nil, err
	}

	ints := &Interrupts{}
	tasks := NewTaskManager(ints, log)
	k := &Kernel{
		mem:        mem,
		alloc:      alloc,
		pt:         pt,
		ints:       ints,
		loader:     loader.New(mem, alloc, log),
		tasks:      tasks,
		timers:     NewTimerManager(ints, tasks, cfg.QuantumTicks),
		log:        log,
		files:      make(map[string]kfs.File),
		heapBase:   heapBase,
		heapFrames: cfg.KernelHeapFrames,
	}
	log.WithFields(logrus.Fields{
		"memory_mib":  cfg.MemoryMiB,
		"heap_frames": cfg.KernelHeapFrames,
	}).Info("kernel booted")
	return k, nil
}

// Allocator exposes the frame allocator, mainly for tests asserting frame
// accounting.
func (k *Kernel) Allocator() *frame.Allocator { return k.alloc }

// Tasks returns the task manager.
func (k *Kernel) Tasks() *TaskManager { return k.tasks }

// Timers returns the timer manager.
func (k *Kernel) Timers() *TimerManager { return k.timers }

// RegisterFile adds a file to the name space OpenFile resolves against,
// keyed by its identity.
func (k *Kernel) RegisterFile(f kfs.File) {
	g := k.ints.Disable()
	defer g.Restore()
	k.files[f.Identity()] = f
}

// Tick is the periodic timer interrupt: advances time, fires due timers,
// and preempts the current task when its quantum is up. Returns the task
// holding the CPU afterwards.
func (k *Kernel) Tick() *Task {
	if k.timers.Tick() {
		return k.tasks.SwitchTask(false)
	}
	return k.tasks.CurrentTask()
}

// PageFault is the fault entry point for the current task. Fatal
// classifications terminate only the faulting task; the kernel keeps
// running and the caller drives teardown.
func (k *Kernel) PageFault(errorCode uint64, addr guest.Addr) *kerr.Error {
	t := k.tasks.CurrentTask()
	if t.space == nil {
		return kerr.ErrIndexOutOfRange
	}
	g := k.ints.Disable()
	defer g.Restore()
	return t.space.HandlePageFault(errorCode, addr)
}

// copyOutUser writes into the current task's user memory, resolving
// not-present faults the way a hardware access would: fault, fix, retry.
func (k *Kernel) copyOutUser(t *Task, addr guest.Addr, b []byte) *kerr.Error {
	return k.userAccess(t, addr, uint64(len(b)), func(pt *pagetables.PageTables) *kerr.Error {
		return pt.CopyOut(addr, b)
	})
}

// copyInUser reads from the current task's user memory with the same
// fault-and-retry behavior.
func (k *Kernel) copyInUser(t *Task, addr guest.Addr, b []byte) *kerr.Error {
	return k.userAccess(t, addr, uint64(len(b)), func(pt *pagetables.PageTables) *kerr.Error {
		return pt.CopyIn(addr, b)
	})
}

func (k *Kernel) copyInString(t *Task, addr guest.Addr, length uint64) (string, *kerr.Error) {
	b := make([]byte, length)
	if err := k.copyInUser(t, addr, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// userAccess runs access, faulting in any unmapped page of [addr,
// addr+length) on demand. A page the fault handler rejects fails the whole
// access.
func (k *Kernel) userAccess(t *Task, addr guest.Addr, length uint64, access func(*pagetables.PageTables) *kerr.Error) *kerr.Error {
	if t.space == nil {
		return kerr.ErrIndexOutOfRange
	}
	pt := t.space.PageTables()
	err := access(pt)
	if err != kerr.ErrIndexOutOfRange {
		return err
	}
	for page := addr.RoundDown(); page < addr+guest.Addr(length); page += guest.PageSize {
		if _, _, ok := pt.Resolve(page); ok {
			continue
		}
		g := k.ints.Disable()
		ferr := t.space.HandlePageFault(0, page)
		g.Restore()
		if ferr != nil {
			return ferr
		}
	}
	return access(pt)
}
