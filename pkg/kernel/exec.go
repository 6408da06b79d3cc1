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
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
	"minos.dev/minos/pkg/loader"
	"minos.dev/minos/pkg/vm"
)

// CallAppFunc is the privilege-switch boundary: it drops to ring 3 at
// entry with the given selectors and stack, and returns the program's exit
// status once the program leaves via the exit path. Before switching it
// stores the kernel stack pointer through osStackPtr so the exit path can
// switch back. It has no register side effects outside this contract.
type CallAppFunc func(argc int, argv guest.Addr, cs uint64, entry guest.Addr, rsp guest.Addr, osStackPtr *uint64) int32

// SetCallApp installs the privilege-switch boundary. The kernel has no
// built-in one; the embedding environment provides it.
func (k *Kernel) SetCallApp(fn CallAppFunc) { k.callApp = fn }

// ExecuteFile loads the executable, builds a task and address space for
// it, runs it to completion through the privilege-switch boundary, and
// tears everything down. The caller's fds 0 through 2 become the child's
// stdio. Returns the child's exit status; a non-nil error either prevented
// the launch or occurred during teardown.
func (k *Kernel) ExecuteFile(f kfs.File, command string, args []string) (int32, *kerr.Error) {
	if k.callApp == nil {
		return 0, kerr.ErrUnsupported
	}
	caller := k.tasks.CurrentTask()

	task := k.tasks.NewTask()
	space, err := vm.NewSpace(k.mem, k.alloc, k.pt, k.log)
	if err != nil {
		k.tasks.Finish(task, -1)
		return 0, err
	}
	task.space = space

	// abort unwinds a failed launch: the child never ran, so it finishes
	// with a failure code and its half-built space is reclaimed.
	abort := func(err *kerr.Error) (int32, *kerr.Error) {
		space.Destroy(vm.CanonicalUserBase, vm.ArgVectorAddr)
		task.space = nil
		k.tasks.Finish(task, -1)
		return 0, err
	}

	info, err := k.loader.LoadApp(f, space)
	if err != nil {
		return abort(err)
	}

	pt := space.PageTables()
	if err := pt.SetupPageMaps(vm.ArgVectorAddr, 1, true); err != nil {
		return abort(err)
	}
	argc, err := loader.MarshalArgs(pt, command, args)
	if err != nil {
		return abort(err)
	}
	if err := pt.SetupPageMaps(vm.StackBase, vm.StackFrames, true); err != nil {
		return abort(err)
	}

	// Stdio inherits from the caller; the heap starts empty right after
	// the image; file mappings grow down from the stack base.
	task.files = make([]kfs.FD, 3)
	copy(task.files, caller.files)
	heapBase := info.End.MustRoundUp()
	space.SetDemandPagingRange(heapBase, heapBase)

	ctx := task.Context()
	ctx.CR3 = uint64(space.Root().Addr())
	ctx.RIP = uint64(info.Entry)
	ctx.CS = UserCS
	ctx.SS = UserSS
	ctx.RSP = uint64(vm.InitialStackPointer)
	ctx.RDI = uint64(argc)
	ctx.RSI = uint64(vm.ArgVectorAddr)

	k.tasks.pushFront(task)
	code := k.callApp(argc, vm.ArgVectorAddr, UserCS, info.Entry, vm.InitialStackPointer, &task.OSStackPointer)
	k.tasks.Finish(task, code)

	task.files = nil
	space.ClearFileMaps()
	terr := space.Destroy(vm.CanonicalUserBase, vm.ArgVectorAddr)
	task.space = nil
	return code, terr
}
