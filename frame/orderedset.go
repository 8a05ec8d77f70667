/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package frame

import (
	"sort"
	"unsafe"

	"github.com/gokernel/memalloc/allocator"
)

// orderedSet is a sorted set of frame indices for one order, backed by a
// raw byte buffer obtained from an allocator.BackingAllocator rather than a
// plain Go slice — this is the "external ordered set stored in the general
// heap" the spec describes for the frame allocator's metadata (a frame
// index isn't itself storage the way a byte address is, so unlike
// freelist.List it can't be intrusive). Binary search gives O(log n) lookup
// for the buddy-removal step; growth goes through backing (the buffer is
// never shrunk), so the bookkeeping churn is visible to whatever general
// heap is passed to frame.New (a byteheap.Heap, or mcache by default).
type orderedSet struct {
	backing allocator.BackingAllocator
	raw     []byte
	n       int
}

func newOrderedSet(backing allocator.BackingAllocator) *orderedSet {
	return &orderedSet{backing: backing}
}

func (s *orderedSet) capacity() int {
	return len(s.raw) / 8
}

func (s *orderedSet) values() []uint64 {
	if s.n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&s.raw[0])), s.capacity())[:s.n]
}

func (s *orderedSet) ensureCapacity(min int) {
	if s.capacity() >= min {
		return
	}
	newCap := s.capacity() * 2
	if newCap < 8 {
		newCap = 8
	}
	if newCap < min {
		newCap = min
	}

	var newRaw []byte
	if s.backing != nil {
		newRaw = s.backing.AllocBytes(newCap * 8)
	}
	if newRaw == nil {
		newRaw = make([]byte, newCap*8)
	}
	if s.n > 0 {
		copy(newRaw, s.raw[:s.n*8])
	}
	if s.backing != nil && s.raw != nil {
		s.backing.FreeBytes(s.raw)
	}
	s.raw = newRaw
}

func (s *orderedSet) Empty() bool {
	return s.n == 0
}

// Insert adds v in sorted position. The caller guarantees v is not already
// present.
func (s *orderedSet) Insert(v uint64) {
	s.ensureCapacity(s.n + 1)
	vals := unsafe.Slice((*uint64)(unsafe.Pointer(&s.raw[0])), s.capacity())
	i := sort.Search(s.n, func(i int) bool { return vals[i] >= v })
	copy(vals[i+1:s.n+1], vals[i:s.n])
	vals[i] = v
	s.n++
}

// Contains reports whether v is currently in the set. frame.Allocator's
// Dealloc uses it, gated behind allocator.Debug, to detect a double free the
// same way freelist.List.Contains does for byteheap.
func (s *orderedSet) Contains(v uint64) bool {
	if s.n == 0 {
		return false
	}
	vals := s.values()
	i := sort.Search(s.n, func(i int) bool { return vals[i] >= v })
	return i < s.n && vals[i] == v
}

// Remove deletes v if present, reporting whether it was found.
func (s *orderedSet) Remove(v uint64) bool {
	if s.n == 0 {
		return false
	}
	vals := s.values()
	i := sort.Search(s.n, func(i int) bool { return vals[i] >= v })
	if i >= s.n || vals[i] != v {
		return false
	}
	copy(vals[i:s.n-1], vals[i+1:s.n])
	s.n--
	return true
}

// PopFirst removes and returns the smallest value (the lower-addressed
// buddy, per the spec's split tie-break rule).
func (s *orderedSet) PopFirst() (uint64, bool) {
	if s.n == 0 {
		return 0, false
	}
	vals := s.values()
	v := vals[0]
	copy(vals[0:s.n-1], vals[1:s.n])
	s.n--
	return v, true
}
