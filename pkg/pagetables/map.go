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

package pagetables

import (
	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

// SetupPageMaps walks from the root and marks numPages consecutive 4 KiB
// pages present starting at addr, allocating child tables and zeroed leaf
// frames on demand. Upper-level entries get writable|user; leaf entries get
// user plus writable per the flag.
//
// addr must be page-aligned. The walk carries correctly across the
// 511-entry boundary at every level: filling entry 511 of a bottom table
// continues in entry 0 of the next table under the next higher-level entry.
func (p *PageTables) SetupPageMaps(addr guest.Addr, numPages int, writable bool) *kerr.Error {
	remain, err := p.setupPageMap(p.root, numLevels, addr, numPages, writable)
	if err != nil {
		return err
	}
	if remain != 0 {
		// Ran off the top of the root table.
		return kerr.ErrIndexOutOfRange
	}
	return nil
}

// setupPageMap fills entries of one table, descending into children, and
// returns how many of numPages are still unmapped when this table's entries
// are exhausted.
func (p *PageTables) setupPageMap(tableFrame guest.FrameID, level int, addr guest.Addr, numPages int, writable bool) (int, *kerr.Error) {
	t := p.table(tableFrame)
	for numPages > 0 {
		i := levelIndex(addr, level)
		child, err := p.ensureChild(t, i)
		if err != nil {
			return numPages, err
		}
		entry := t.get(i).withUser()
		if level == 1 {
			entry = entry.withWritable(writable)
			numPages--
		} else {
			entry = entry.withWritable(true)
			t.set(i, entry)
			remain, err := p.setupPageMap(child, level-1, addr, numPages, writable)
			if err != nil {
				return remain, err
			}
			numPages = remain
		}
		t.set(i, entry)
		if i == lastIndex {
			// The parent advances to its next entry.
			break
		}
		addr = setLevelIndex(addr, level, i+1)
	}
	return numPages, nil
}

// ensureChild returns the frame referenced by entry i of t, allocating and
// installing a zeroed frame if the entry is not present. At the bottom level
// the frame is the data page itself.
func (p *PageTables) ensureChild(t table, i int) (guest.FrameID, *kerr.Error) {
	if e := t.get(i); e.Valid() {
		return e.Frame(), nil
	}
	f, err := p.newTable()
	if err != nil {
		return guest.NullFrame, err
	}
	t.set(i, PTE(f.Addr())|ptePresent)
	return f, nil
}
