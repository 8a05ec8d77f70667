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

package vminit

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gokernel/memalloc/listheap"
)

// fakeMapper records every virtual page it's asked to map; it never fails
// unless failAfter is reached, simulating a mapper that runs out of page
// table frames partway through.
type fakeMapper struct {
	mapped   []uintptr
	failAfter int // 0 means never fail
}

func (m *fakeMapper) MapPage(virtAddr uintptr, frame Frame) error {
	if m.failAfter > 0 && len(m.mapped) >= m.failAfter {
		return errors.New("out of page table frames")
	}
	m.mapped = append(m.mapped, virtAddr)
	return nil
}

// fakeFrameSource hands out synthetic page-sized frame addresses from
// [next, limit), one at a time, until exhausted.
type fakeFrameSource struct {
	next, limit uintptr
}

func (f *fakeFrameSource) AllocateFrame() (Frame, bool) {
	if f.next >= f.limit {
		return Frame{}, false
	}
	fr := Frame{StartAddr: f.next}
	f.next += PageSize
	return fr, true
}

func backingArena(t *testing.T, pages int) uintptr {
	t.Helper()
	arena := make([]byte, pages*PageSize+PageSize)
	start := uintptr(unsafe.Pointer(&arena[0]))
	return (start + PageSize - 1) &^ (PageSize - 1)
}

func TestInitMapsEveryPageThenPopulatesBuddyHeap(t *testing.T) {
	const pages = 4
	heapStart := backingArena(t, pages)
	mapper := &fakeMapper{}
	frames := &fakeFrameSource{next: 0x1000, limit: 0x1000 + pages*PageSize}

	cfg := Config{Allocator: AllocatorBuddy, HeapStart: heapStart, HeapSize: pages * PageSize}
	heap, err := Init(cfg, mapper, frames)
	require.NoError(t, err)
	require.NotNil(t, heap)
	assert.Len(t, mapper.mapped, pages)

	p, err := heap.Alloc(8, 8)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p, heapStart)
	assert.Less(t, p, heapStart+pages*PageSize)
}

func TestInitSelectsListHeap(t *testing.T) {
	const pages = 2
	heapStart := backingArena(t, pages)
	mapper := &fakeMapper{}
	frames := &fakeFrameSource{next: 0x2000, limit: 0x2000 + pages*PageSize}

	cfg := Config{Allocator: AllocatorList, HeapStart: heapStart, HeapSize: pages * PageSize}
	heap, err := Init(cfg, mapper, frames)
	require.NoError(t, err)
	_, ok := heap.(*listheap.Heap)
	assert.True(t, ok)
}

func TestInitRejectsUnalignedStart(t *testing.T) {
	mapper := &fakeMapper{}
	frames := &fakeFrameSource{limit: PageSize}
	cfg := Config{HeapStart: 1, HeapSize: PageSize}
	_, err := Init(cfg, mapper, frames)
	assert.Error(t, err)
}

func TestInitRejectsUnalignedSize(t *testing.T) {
	heapStart := backingArena(t, 1)
	mapper := &fakeMapper{}
	frames := &fakeFrameSource{limit: PageSize}
	cfg := Config{HeapStart: heapStart, HeapSize: 1}
	_, err := Init(cfg, mapper, frames)
	assert.Error(t, err)
}

func TestInitPropagatesFrameExhaustion(t *testing.T) {
	const pages = 4
	heapStart := backingArena(t, pages)
	mapper := &fakeMapper{}
	frames := &fakeFrameSource{next: 0x3000, limit: 0x3000 + 2*PageSize}

	cfg := Config{HeapStart: heapStart, HeapSize: pages * PageSize}
	_, err := Init(cfg, mapper, frames)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestInitPropagatesMapperFailure(t *testing.T) {
	const pages = 4
	heapStart := backingArena(t, pages)
	mapper := &fakeMapper{failAfter: 2}
	frames := &fakeFrameSource{next: 0x4000, limit: 0x4000 + pages*PageSize}

	cfg := Config{HeapStart: heapStart, HeapSize: pages * PageSize}
	_, err := Init(cfg, mapper, frames)
	assert.ErrorIs(t, err, ErrMapPage)
}
