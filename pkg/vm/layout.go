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

package vm

import "minos.dev/minos/pkg/guest"

// Fixed user address-space layout.
const (
	// CanonicalUserBase is the boundary of user space. Any executable's
	// first loadable segment must start at or above it.
	CanonicalUserBase guest.Addr = 0xffff_8000_0000_0000

	// ArgVectorAddr is the single high page reserved for the argument
	// vector.
	ArgVectorAddr guest.Addr = 0xffff_ffff_ffff_f000

	// ArgVectorCapacity is the number of pointer slots in the argument
	// vector page.
	ArgVectorCapacity = 32

	// StackFrames is the size of the user stack region reserved directly
	// below the argument vector page.
	StackFrames = 8

	// StackBase is the lowest address of the stack region; it is also the
	// initial file-map region tail, from which file mappings grow down.
	StackBase = ArgVectorAddr - StackFrames*guest.PageSize

	// InitialStackPointer is the stack pointer handed to a freshly launched
	// task. One slot below the region top keeps the first push inside the
	// mapped range.
	InitialStackPointer = ArgVectorAddr - 8
)
