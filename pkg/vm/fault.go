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

import (
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

// faultPresent is the page-fault error-code bit set when the fault hit an
// already-present page, i.e. a protection violation rather than a missing
// translation.
const faultPresent = 1 << 0

// HandlePageFault services one page fault against this space. The decision
// table, in order:
//
//  1. protection violation on a present page: fatal, ErrAlreadyAllocated;
//  2. addr inside the demand-paging range: one new zero-filled page;
//  3. addr inside a registered file mapping: one page, read/write, filled
//     with the 4 KiB file window at (page start − mapping begin);
//  4. otherwise: fatal, ErrIndexOutOfRange.
//
// Fatal classifications terminate only the faulting task; the caller decides
// that, not this function.
func (s *Space) HandlePageFault(errorCode uint64, addr guest.Addr) *kerr.Error {
	if errorCode&faultPresent != 0 {
		s.log.WithFields(logrus.Fields{
			"addr":       addr,
			"error_code": errorCode,
		}).Debug("page fault: protection violation")
		return kerr.ErrAlreadyAllocated
	}
	if s.dpagingBegin <= addr && addr < s.dpagingEnd {
		return s.pt.SetupPageMaps(addr.RoundDown(), 1, true)
	}
	if m, ok := s.findFileMapping(addr); ok {
		return s.preparePageCache(m, addr)
	}
	s.log.WithField("addr", addr).Debug("page fault: address in no known region")
	return kerr.ErrIndexOutOfRange
}

// preparePageCache faults one page of a file mapping in: a fresh writable
// page at the faulting page boundary, loaded with the corresponding file
// window. The page is zeroed before the read, so a short read near end of
// file leaves a zero tail.
func (s *Space) preparePageCache(m FileMapping, addr guest.Addr) *kerr.Error {
	pageBegin := addr.RoundDown()
	if err := s.pt.SetupPageMaps(pageBegin, 1, true); err != nil {
		return err
	}
	phys, _, ok := s.pt.Resolve(pageBegin)
	if !ok {
		return kerr.ErrIndexOutOfRange
	}
	fileOffset := int64(pageBegin - m.Begin)
	if _, err := m.File.Load(s.mem.Frame(guest.FrameContaining(phys)), fileOffset); err != nil {
		s.log.WithFields(logrus.Fields{
			"addr":   pageBegin,
			"offset": fileOffset,
		}).WithError(err).Error("page fault: file load failed")
		return kerr.ErrNoSuchEntry
	}
	return nil
}
