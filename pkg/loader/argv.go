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

package loader

import (
	"encoding/binary"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
	"minos.dev/minos/pkg/pagetables"
	"minos.dev/minos/pkg/vm"
)

// MarshalArgs writes the argument vector into the fixed high page: a table
// of vm.ArgVectorCapacity pointer slots at the page start, the NUL-terminated
// strings packed behind it. argv[0] is the command name. Returns argc.
//
// Fails with ErrFull if the argument count exceeds the slot capacity or the
// strings overflow the page. The page must already be mapped.
func MarshalArgs(pt *pagetables.PageTables, command string, args []string) (int, *kerr.Error) {
	all := append([]string{command}, args...)
	if len(all) > vm.ArgVectorCapacity {
		return 0, kerr.ErrFull
	}

	const tableBytes = vm.ArgVectorCapacity * 8
	ptrs := make([]byte, tableBytes)
	var strs []byte
	for i, s := range all {
		addr := vm.ArgVectorAddr + guest.Addr(tableBytes+len(strs))
		binary.LittleEndian.PutUint64(ptrs[i*8:], uint64(addr))
		strs = append(strs, s...)
		strs = append(strs, 0)
	}
	if tableBytes+len(strs) > guest.PageSize {
		return 0, kerr.ErrFull
	}
	if err := pt.CopyOut(vm.ArgVectorAddr, ptrs); err != nil {
		return 0, err
	}
	if err := pt.CopyOut(vm.ArgVectorAddr+tableBytes, strs); err != nil {
		return 0, err
	}
	return len(all), nil
}
