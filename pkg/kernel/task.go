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
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/vm"
)

// TaskContext is the saved hardware state of one task: everything a context
// switch stores and reloads. CR3 carries the task's root table so a switch
// restores the right address space.
type TaskContext struct {
	CR3    uint64
	RIP    uint64
	RFLAGS uint64

	CS, SS uint64
	FS, GS uint64

	RAX, RBX, RCX, RDX uint64
	RDI, RSI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Task is one scheduling unit: a saved context, a pending-message FIFO, an
// open-descriptor table, and (for user tasks) an address space. All mutable
// fields are guarded by the manager's interrupt flag.
type Task struct {
	id  uint64
	ctx TaskContext

	msgs  []Message
	files []kfs.FD
	space *vm.Space

	// OSStackPointer is the kernel stack pointer stashed by the exec
	// trampoline, reloaded when the user program exits or traps.
	OSStackPointer uint64

	// wake is signalled when a sleeping task is made runnable again, so
	// a goroutine blocked on this task's behalf can resume.
	wake chan struct{}
}

// ID returns the task's identifier, unique for the manager's lifetime.
func (t *Task) ID() uint64 { return t.id }

// Context returns the task's saved context for the next switch to load.
func (t *Task) Context() *TaskContext { return &t.ctx }

// Space returns the task's address space, nil for kernel-only tasks.
func (t *Task) Space() *vm.Space { return t.space }

// Files returns the task's descriptor table. Index is the fd number; nil
// slots are closed descriptors.
func (t *Task) Files() []kfs.FD { return t.files }

// SetFiles replaces the task's descriptor table. The boot flow uses it to
// install the console streams as the initial stdio.
func (t *Task) SetFiles(files []kfs.FD) { t.files = files }
