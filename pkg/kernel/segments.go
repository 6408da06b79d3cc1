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

// Segment selectors for the fixed GDT layout. The low two bits of a
// selector are the requested privilege level.
const (
	// KernelCS and KernelSS are the ring-0 code and stack selectors.
	KernelCS = 1 << 3
	KernelSS = 2 << 3

	// UserSS and UserCS are the ring-3 selectors, RPL already set. The
	// stack segment precedes the code segment so a single SYSRET base
	// covers both.
	UserSS = 3<<3 | 3
	UserCS = 4<<3 | 3
)

// rflagsDefault is the initial RFLAGS for a fresh context: interrupts
// enabled plus the always-set reserved bit.
const rflagsDefault = 0x202
