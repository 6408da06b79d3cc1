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
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/kfs"
)

// Syscall numbers. The high bit distinguishes syscall numbers from fault
// vectors; the low bits index the dispatch table.
const (
	SysLogString = 0x8000_0000 + iota
	SysPutString
	SysExit
	SysOpenFile
	SysReadFile
	SysDemandPages
	SysMapFile
	SysGetCurrentTick
	SysCreateTimer
)

// CreateTimer mode bits.
const (
	// TimerRelative interprets the timeout as ticks from now rather than
	// an absolute tick.
	TimerRelative = 1
)

type syscallFunc func(k *Kernel, t *Task, a1, a2, a3, a4 uint64) (uint64, *kerr.Error)

var syscallTable = [...]syscallFunc{
	SysLogString & 0x7fff_ffff:      sysLogString,
	SysPutString & 0x7fff_ffff:      sysPutString,
	SysExit & 0x7fff_ffff:           sysExit,
	SysOpenFile & 0x7fff_ffff:       sysOpenFile,
	SysReadFile & 0x7fff_ffff:       sysReadFile,
	SysDemandPages & 0x7fff_ffff:    sysDemandPages,
	SysMapFile & 0x7fff_ffff:        sysMapFile,
	SysGetCurrentTick & 0x7fff_ffff: sysGetCurrentTick,
	SysCreateTimer & 0x7fff_ffff:    sysCreateTimer,
}

// Syscall is the sole user-mode entry point: dispatches the numbered call
// on behalf of the current task. An unknown number fails with
// ErrUnsupported rather than faulting.
func (k *Kernel) Syscall(num uint64, a1, a2, a3, a4 uint64) (uint64, *kerr.Error) {
	idx := num & 0x7fff_ffff
	if num&0x8000_0000 == 0 || idx >= uint64(len(syscallTable)) {
		return 0, kerr.ErrUnsupported
	}
	t := k.tasks.CurrentTask()
	return syscallTable[idx](k, t, a1, a2, a3, a4)
}

// sysLogString logs a user string at the requested level.
func sysLogString(k *Kernel, t *Task, level, addr, length, _ uint64) (uint64, *kerr.Error) {
	if level > uint64(logrus.TraceLevel) {
		return 0, kerr.ErrUnsupported
	}
	s, err := k.copyInString(t, guest.Addr(addr), length)
	if err != nil {
		return 0, err
	}
	k.log.WithField("task", t.ID()).Log(logrus.Level(level), s)
	return uint64(len(s)), nil
}

// sysPutString writes a user string to an open descriptor.
func sysPutString(k *Kernel, t *Task, fd, addr, length, _ uint64) (uint64, *kerr.Error) {
	d, err := taskFD(t, fd)
	if err != nil {
		return 0, err
	}
	s, err := k.copyInString(t, guest.Addr(addr), length)
	if err != nil {
		return 0, err
	}
	n, werr := d.Write([]byte(s))
	if werr != nil {
		return uint64(n), kerr.ErrBadFD
	}
	return uint64(n), nil
}

// sysExit ends the user program. The return value is the stashed kernel
// stack pointer; the trampoline switches back to it and surfaces the code
// as its own return value. No instruction after the call executes in user
// mode.
func sysExit(k *Kernel, t *Task, code, _, _, _ uint64) (uint64, *kerr.Error) {
	return t.OSStackPointer, nil
}

// sysOpenFile opens a registered file and installs it in the task's
// descriptor table.
func sysOpenFile(k *Kernel, t *Task, pathAddr, pathLen, _, _ uint64) (uint64, *kerr.Error) {
	path, err := k.copyInString(t, guest.Addr(pathAddr), pathLen)
	if err != nil {
		return 0, err
	}
	g := k.ints.Disable()
	f, ok := k.files[path]
	g.Restore()
	if !ok {
		return 0, kerr.ErrNoSuchEntry
	}
	t.files = append(t.files, kfs.NewFileFD(f))
	return uint64(len(t.files) - 1), nil
}

// sysReadFile reads sequentially from a descriptor into user memory.
func sysReadFile(k *Kernel, t *Task, fd, bufAddr, count, _ uint64) (uint64, *kerr.Error) {
	d, err := taskFD(t, fd)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, rerr := d.Read(buf)
	if rerr != nil && n == 0 {
		return 0, kerr.ErrBadFD
	}
	if err := k.copyOutUser(t, guest.Addr(bufAddr), buf[:n]); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

// sysDemandPages grows the demand-paging range; the new pages fault in
// lazily on first touch.
func sysDemandPages(k *Kernel, t *Task, numPages, _, _, _ uint64) (uint64, *kerr.Error) {
	if t.space == nil {
		return 0, kerr.ErrUnsupported
	}
	g := k.ints.Disable()
	defer g.Restore()
	return uint64(t.space.ExpandDemandPages(numPages)), nil
}

// sysMapFile maps a descriptor's whole file at the file-map tail and
// stores the file size at sizeAddr. Returns the mapped base address.
func sysMapFile(k *Kernel, t *Task, fd, sizeAddr, _, _ uint64) (uint64, *kerr.Error) {
	if t.space == nil {
		return 0, kerr.ErrUnsupported
	}
	d, err := taskFD(t, fd)
	if err != nil {
		return 0, err
	}
	fileFD, ok := d.(*kfs.FileFD)
	if !ok {
		return 0, kerr.ErrBadFD
	}
	f := fileFD.File()

	g := k.ints.Disable()
	begin, _ := t.space.AddFileMapping(f, uint64(f.Size()))
	g.Restore()

	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(f.Size()))
	if err := k.copyOutUser(t, guest.Addr(sizeAddr), sz[:]); err != nil {
		return 0, err
	}
	return uint64(begin), nil
}

func sysGetCurrentTick(k *Kernel, _ *Task, _, _, _, _ uint64) (uint64, *kerr.Error) {
	return k.timers.CurrentTick(), nil
}

// sysCreateTimer arms a one-shot timer delivering a TimerEvent message to
// the calling task. Returns the absolute expiry tick.
func sysCreateTimer(k *Kernel, t *Task, mode, value, timeout, _ uint64) (uint64, *kerr.Error) {
	when := timeout
	if mode&TimerRelative != 0 {
		when = k.timers.CurrentTick() + timeout
	}
	k.timers.AddTimer(Timer{Timeout: when, Value: int(int64(value)), TaskID: t.ID()})
	return when, nil
}

// taskFD resolves an fd number against the task's descriptor table.
func taskFD(t *Task, fd uint64) (kfs.FD, *kerr.Error) {
	if fd >= uint64(len(t.files)) || t.files[fd] == nil {
		return nil, kerr.ErrBadFD
	}
	return t.files[fd], nil
}
