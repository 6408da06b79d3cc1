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

package boot

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"minos.dev/minos/pkg/guest"
)

// Config is the boot configuration, normally decoded from a TOML file the
// way the machine's loader would pass a memory map and layout constants.
type Config struct {
	// MemoryMiB is the guest physical memory size.
	MemoryMiB uint64 `toml:"memory_mib"`

	// IdentityMapGiB is how many GiB the boot identity map covers.
	IdentityMapGiB int `toml:"identity_map_gib"`

	// QuantumTicks is the scheduler preemption quantum in timer ticks.
	QuantumTicks uint64 `toml:"quantum_ticks"`

	// KernelHeapFrames is reserved for the kernel heap at init.
	KernelHeapFrames uint64 `toml:"kernel_heap_frames"`

	// Regions is the firmware memory map, in ascending address order.
	Regions []Region `toml:"regions"`
}

// Region is the TOML form of one memory-map descriptor.
type Region struct {
	// Type is the numeric firmware region type.
	Type uint32 `toml:"type"`

	// StartPage is PhysicalStart in 4 KiB pages.
	StartPage uint64 `toml:"start_page"`

	// Pages is the region length in 4 KiB pages.
	Pages uint64 `toml:"pages"`
}

// DefaultConfig returns a small self-consistent machine: 64 MiB of memory,
// the first MiB reserved, the rest conventional.
func DefaultConfig() *Config {
	return &Config{
		MemoryMiB:        64,
		IdentityMapGiB:   1,
		QuantumTicks:     2,
		KernelHeapFrames: 64,
		Regions: []Region{
			{Type: uint32(MemoryReserved), StartPage: 0, Pages: 256},
			{Type: uint32(MemoryConventional), StartPage: 256, Pages: 64*256 - 256},
		},
	}
}

// LoadConfig decodes a boot configuration from a TOML file.
func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, fmt.Errorf("decoding boot config %q: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.MemoryMiB == 0 {
		return fmt.Errorf("boot config: memory_mib must be positive")
	}
	if c.IdentityMapGiB < 1 {
		return fmt.Errorf("boot config: identity_map_gib must be at least 1")
	}
	var prevEnd uint64
	for i, r := range c.Regions {
		if r.StartPage < prevEnd {
			return fmt.Errorf("boot config: region %d overlaps or is out of order", i)
		}
		prevEnd = r.StartPage + r.Pages
	}
	if prevEnd*guest.PageSize > c.MemoryMiB<<20 {
		return fmt.Errorf("boot config: regions extend past physical memory")
	}
	return nil
}

// MemoryMap expands the configured regions into firmware descriptors.
func (c *Config) MemoryMap() []Descriptor {
	mm := make([]Descriptor, 0, len(c.Regions))
	for _, r := range c.Regions {
		mm = append(mm, Descriptor{
			Type:          MemoryType(r.Type),
			PhysicalStart: guest.Addr(r.StartPage * guest.PageSize),
			NumberOfPages: r.Pages,
		})
	}
	return mm
}
