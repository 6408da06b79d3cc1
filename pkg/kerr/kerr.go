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

// Package kerr holds the kernel's error kinds, exported as singleton error
// values. Errors are compared by pointer, which makes classification on the
// fault and syscall paths a simple equality check with no allocation.
package kerr

// Code is a numeric kernel error code, stable across the syscall boundary.
type Code int32

// Kernel error codes.
const (
	CodeSuccess Code = iota
	CodeNoEnoughMemory
	CodeAlreadyAllocated
	CodeIndexOutOfRange
	CodeInvalidFormat
	CodeInvalidFile
	CodeIsFull
	CodeNoSuchTask
	CodeNoSuchEntry
	CodeBadFD
	CodeUnsupported
)

// Error implements error with a stable code. Instances are immutable and
// package callers must treat the declared singletons as the only values of
// this type.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the numeric code of the error.
func (e *Error) Code() Code { return e.code }

// The singleton error values. Each corresponds to one failure class the
// memory and process core can report.
var (
	// ErrNoEnoughMemory indicates the frame allocator could not find the
	// requested run of free frames.
	ErrNoEnoughMemory = New(CodeNoEnoughMemory, "no enough memory")

	// ErrAlreadyAllocated indicates a protection violation on a page that is
	// already present. Fatal to the faulting task.
	ErrAlreadyAllocated = New(CodeAlreadyAllocated, "already allocated")

	// ErrIndexOutOfRange indicates an address owned by no known region.
	// Fatal to the faulting task.
	ErrIndexOutOfRange = New(CodeIndexOutOfRange, "index out of range")

	// ErrInvalidFormat indicates an executable that is well-formed ELF but
	// not loadable: wrong type, or a first loadable segment below the
	// canonical user-space boundary.
	ErrInvalidFormat = New(CodeInvalidFormat, "invalid format")

	// ErrInvalidFile indicates content that is not ELF at all.
	ErrInvalidFile = New(CodeInvalidFile, "invalid file")

	// ErrFull indicates a fixed-capacity structure (argument vector, table
	// slot) overflowed.
	ErrFull = New(CodeIsFull, "full")

	// ErrNoSuchTask indicates an operation referenced an unknown task ID.
	ErrNoSuchTask = New(CodeNoSuchTask, "no such task")

	// ErrNoSuchEntry indicates a lookup missed (file, descriptor, mapping).
	ErrNoSuchEntry = New(CodeNoSuchEntry, "no such entry")

	// ErrBadFD indicates a descriptor number with no open file behind it.
	ErrBadFD = New(CodeBadFD, "bad file descriptor")

	// ErrUnsupported indicates a layout or request the core deliberately
	// does not handle (e.g. multi-entry private address-space layouts).
	ErrUnsupported = New(CodeUnsupported, "unsupported")
)

// Equals compares a *Error against an arbitrary error, tolerating nil on
// either side.
func Equals(e *Error, err error) bool {
	if e == nil {
		return err == nil
	}
	other, ok := err.(*Error)
	return ok && other == e
}
