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

import "sync"

// Interrupts models the single-core interrupt flag. Disabling interrupts is
// the kernel's only mutual-exclusion primitive: every touch of shared
// scheduler or timer state happens inside a Disable/Restore pair. Sections
// are kept short and never span an allocation loop or file I/O.
type Interrupts struct {
	mu sync.Mutex
}

// Disable masks interrupts and returns a guard that restores them. The
// guard must be restored on every exit path; defer is the usual shape.
func (i *Interrupts) Disable() *InterruptGuard {
	i.mu.Lock()
	return &InterruptGuard{ints: i}
}

// InterruptGuard re-enables interrupts exactly once.
type InterruptGuard struct {
	ints *Interrupts
}

// Restore re-enables interrupts. Restoring twice is a no-op.
func (g *InterruptGuard) Restore() {
	if g.ints != nil {
		g.ints.mu.Unlock()
		g.ints = nil
	}
}
