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

package frame

import (
	"testing"

	"minos.dev/minos/pkg/guest"
	"minos.dev/minos/pkg/kerr"
)

func TestAllocateFirstFit(t *testing.T) {
	a := NewAllocator(128)

	f0, err := a.Allocate(3)
	if err != nil {
		t.Fatalf("Allocate(3) failed: %v", err)
	}
	if f0 != 0 {
		t.Errorf("Allocate(3) = %d, want 0", f0)
	}

	f1, err := a.Allocate(2)
	if err != nil {
		t.Fatalf("Allocate(2) failed: %v", err)
	}
	if f1 != 3 {
		t.Errorf("Allocate(2) = %d, want 3", f1)
	}

	// Free the first run; the next allocation that fits must reuse it.
	a.Free(f0, 3)
	f2, err := a.Allocate(2)
	if err != nil {
		t.Fatalf("Allocate(2) after Free failed: %v", err)
	}
	if f2 != 0 {
		t.Errorf("Allocate(2) after Free = %d, want 0", f2)
	}
}

func TestAllocateSkipsBlockedRuns(t *testing.T) {
	a := NewAllocator(64)

	// Leave single-frame holes at 0..1 and 3, with frame 2 and 4 taken.
	a.MarkAllocated(2, 1)
	a.MarkAllocated(4, 1)

	f, err := a.Allocate(3)
	if err != nil {
		t.Fatalf("Allocate(3) failed: %v", err)
	}
	if f != 5 {
		t.Errorf("Allocate(3) = %d, want 5", f)
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	a := NewAllocator(16)

	if _, err := a.Allocate(8); err != nil {
		t.Fatalf("Allocate(8) failed: %v", err)
	}
	// 8 frames remain; 9 must fail with the dedicated error, never a bogus
	// frame ID.
	if f, err := a.Allocate(9); err != kerr.ErrNoEnoughMemory {
		t.Errorf("Allocate(9) = (%d, %v), want ErrNoEnoughMemory", f, err)
	}
	// The failed attempt must not have leaked any reservations.
	if got := a.Stat().AllocatedFrames; got != 8 {
		t.Errorf("AllocatedFrames = %d after failed allocation, want 8", got)
	}
	if f, err := a.Allocate(8); err != nil || f != 8 {
		t.Errorf("Allocate(8) = (%d, %v), want (8, nil)", f, err)
	}
}

func TestSetMemoryRange(t *testing.T) {
	a := NewAllocator(128)
	a.SetMemoryRange(10, 20)

	f, err := a.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate(4) failed: %v", err)
	}
	if f != 10 {
		t.Errorf("Allocate(4) = %d, want 10", f)
	}
	if _, err := a.Allocate(7); err != kerr.ErrNoEnoughMemory {
		t.Errorf("Allocate(7) beyond range end: err = %v, want ErrNoEnoughMemory", err)
	}
}

func TestStatTracksNetOutstanding(t *testing.T) {
	a := NewAllocator(256)
	if got := a.Stat(); got.AllocatedFrames != 0 || got.TotalFrames != 256 {
		t.Fatalf("initial Stat() = %+v", got)
	}

	var live []struct {
		f guest.FrameID
		n uint64
	}
	for _, n := range []uint64{1, 7, 64, 3} {
		f, err := a.Allocate(n)
		if err != nil {
			t.Fatalf("Allocate(%d) failed: %v", n, err)
		}
		live = append(live, struct {
			f guest.FrameID
			n uint64
		}{f, n})
	}
	if got := a.Stat().AllocatedFrames; got != 75 {
		t.Errorf("AllocatedFrames = %d, want 75", got)
	}

	for _, l := range live {
		a.Free(l.f, l.n)
	}
	if got := a.Stat().AllocatedFrames; got != 0 {
		t.Errorf("AllocatedFrames = %d after freeing everything, want 0", got)
	}
}

func TestLiveAllocationsNeverOverlap(t *testing.T) {
	a := NewAllocator(96)
	seen := make(map[guest.FrameID]bool)
	for i := 0; i < 12; i++ {
		f, err := a.Allocate(8)
		if err != nil {
			t.Fatalf("Allocate(8) #%d failed: %v", i, err)
		}
		for j := guest.FrameID(0); j < 8; j++ {
			if seen[f+j] {
				t.Fatalf("frame %d handed out twice", f+j)
			}
			seen[f+j] = true
		}
	}
	if _, err := a.Allocate(1); err != kerr.ErrNoEnoughMemory {
		t.Errorf("Allocate(1) on full bitmap: err = %v, want ErrNoEnoughMemory", err)
	}
}

func TestMarkAllocatedIsUnconditional(t *testing.T) {
	a := NewAllocator(64)
	a.MarkAllocated(0, 4)
	a.MarkAllocated(2, 4) // overlaps; must not double count

	if got := a.Stat().AllocatedFrames; got != 6 {
		t.Errorf("AllocatedFrames = %d, want 6", got)
	}
}

func TestStatReportsRequestedTotal(t *testing.T) {
	a := NewAllocator(100)
	if got := a.Stat().TotalFrames; got != 100 {
		t.Errorf("TotalFrames = %d, want 100", got)
	}

	// The word-rounded bitmap tail is not allocatable.
	if _, err := a.Allocate(101); err != kerr.ErrNoEnoughMemory {
		t.Errorf("Allocate(101) = %v, want ErrNoEnoughMemory", err)
	}
	if _, err := a.Allocate(100); err != nil {
		t.Errorf("Allocate(100) failed: %v", err)
	}
}
