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

package allocator

import "github.com/bytedance/gopkg/lang/mcache"

// MCacheBacking implements BackingAllocator on top of
// github.com/bytedance/gopkg/lang/mcache's size-classed pool, the same way
// bufiox and gridbuf use mcache.Malloc/mcache.Free for their own scratch
// buffer churn. frame.New falls back to this when no backing is passed,
// which is what a frame allocator uses before any byteheap.Heap exists to
// serve as "the host's general heap"; a caller that has a byteheap.Heap
// passes it to frame.New instead.
type MCacheBacking struct{}

func (MCacheBacking) AllocBytes(n int) []byte {
	return mcache.Malloc(n)
}

func (MCacheBacking) FreeBytes(b []byte) {
	mcache.Free(b)
}
