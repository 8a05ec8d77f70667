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

package freelist

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordAligned returns n pointer-sized-word backing addresses, each from its
// own Go allocation so the freelist's unsafe writes stay inside owned memory.
func wordAligned(t *testing.T, n int) []uintptr {
	t.Helper()
	addrs := make([]uintptr, n)
	for i := range addrs {
		w := new(uintptr)
		addrs[i] = uintptr(unsafe.Pointer(w))
	}
	return addrs
}

func TestPushPopLIFO(t *testing.T) {
	addrs := wordAligned(t, 3)
	var l List
	require.True(t, l.Empty())

	for _, a := range addrs {
		l.Push(a)
	}
	require.False(t, l.Empty())

	for i := len(addrs) - 1; i >= 0; i-- {
		got, ok := l.Pop()
		require.True(t, ok)
		assert.Equal(t, addrs[i], got)
	}
	_, ok := l.Pop()
	assert.False(t, ok)
	assert.True(t, l.Empty())
}

func TestRemoveHeadMiddleTail(t *testing.T) {
	addrs := wordAligned(t, 4)
	var l List
	for _, a := range addrs {
		l.Push(a)
	}
	// push order: addrs[3], addrs[2], addrs[1], addrs[0] -> head is addrs[3]

	require.True(t, l.Remove(addrs[1])) // middle
	require.False(t, l.Remove(addrs[1]))
	require.True(t, l.Remove(addrs[3])) // head
	require.True(t, l.Remove(addrs[0])) // tail

	var remaining []uintptr
	l.Iter(func(a uintptr) bool {
		remaining = append(remaining, a)
		return true
	})
	assert.Equal(t, []uintptr{addrs[2]}, remaining)
}

func TestRemoveNotFound(t *testing.T) {
	addrs := wordAligned(t, 2)
	var l List
	l.Push(addrs[0])
	assert.False(t, l.Remove(addrs[1]))
}

func TestContains(t *testing.T) {
	addrs := wordAligned(t, 2)
	var l List
	l.Push(addrs[0])
	assert.True(t, l.Contains(addrs[0]))
	assert.False(t, l.Contains(addrs[1]))
}

func TestIterNonDestructive(t *testing.T) {
	addrs := wordAligned(t, 3)
	var l List
	for _, a := range addrs {
		l.Push(a)
	}
	var seen int
	l.Iter(func(uintptr) bool {
		seen++
		return true
	})
	assert.Equal(t, 3, seen)
	// still fully poppable afterwards
	for range addrs {
		_, ok := l.Pop()
		require.True(t, ok)
	}
}
