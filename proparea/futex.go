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
	"runtime"
	"sync/atomic"
	"time"
)

// defaultDirtySpinWait bounds how long Read() parks on a property's futex
// before re-checking the dirty bit by hand.
const defaultDirtySpinWait = 2 * time.Millisecond

func yieldCPU() {
	runtime.Gosched()
}

// deadlineAfter returns an absolute deadline in UnixNano, the unit futex
// wait helpers compare against.
func deadlineAfter(d time.Duration) int64 {
	return time.Now().Add(d).UnixNano()
}

// waitChanged polls addr until it differs from cur or the deadline passes,
// used by the non-Linux futex fallback. It never busy-loops faster than
// pollInterval.
func waitChanged(addr *uint32, cur uint32, deadlineNanos int64, pollInterval time.Duration) (uint32, bool) {
	for {
		v := atomic.LoadUint32(addr)
		if v != cur {
			return v, true
		}
		if deadlineNanos > 0 && time.Now().UnixNano() >= deadlineNanos {
			return v, false
		}
		time.Sleep(pollInterval)
	}
}
