// Copyright 2026 the sysprops authors.
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

package proparea

import (
	"sync/atomic"
	"unsafe"

	"github.com/hiking90/sysprops/errkind"
)

// ptrAt returns an unsafe.Pointer into data at byte offset off, for atomic
// word access on mapped memory (mirrors the original's AtomicU32 fields
// layered directly over mmap'd bytes).
func ptrAt(data []byte, off int) unsafe.Pointer {
	return unsafe.Pointer(&data[off])
}

func align4(n int) int {
	return (n + 3) &^ 3
}

// allocRaw bump-allocates n bytes (4-byte aligned) from the data region that
// follows the header, returning the offset relative to the start of that
// region. It never frees or moves previously returned offsets.
func (a *Area) allocRaw(n int) (uint32, error) {
	aligned := uint32(align4(n))
	used := atomic.LoadUint32(a.bytesUsedPtr())
	if uint64(used)+uint64(aligned) > uint64(a.DataSize()) {
		return 0, errkind.New(errkind.AreaFull, "property area exhausted")
	}
	atomic.StoreUint32(a.bytesUsedPtr(), used+aligned)
	return used, nil
}

// dataSlice returns a slice of a.data covering [off, off+n) within the
// region past the header, validating the offset invariant.
func (a *Area) dataSlice(off uint32, n int) ([]byte, error) {
	if uint64(off)+uint64(n) > uint64(a.DataSize()) {
		return nil, errkind.New(errkind.Internal, "property area offset out of bounds")
	}
	start := headerSize + int(off)
	return a.data[start : start+n], nil
}

func (a *Area) bytesUsed() uint32 {
	return atomic.LoadUint32(a.bytesUsedPtr())
}
