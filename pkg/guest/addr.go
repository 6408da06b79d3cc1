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

package guest

import "fmt"

// Addr represents an address in the guest, either linear (virtual) or
// physical depending on context. Which one is meant is always clear at the
// call site; the arithmetic is identical.
type Addr uint64

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is like RoundUp, but panics if rounding up wraps around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("guest.Addr(%#x).RoundUp() wraps", uint64(v)))
	}
	return addr
}

// PageOffset returns the offset of the address within its page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if the address is a page boundary.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AddLength returns v + length. ok is true iff the sum did not wrap around.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// String implements fmt.Stringer.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}
