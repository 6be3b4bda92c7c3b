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

//go:build linux

package proparea

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex(2) operation codes (linux/futex.h). x/sys/unix only exposes
// the syscall number (SYS_FUTEX), not these op codes, so they're defined
// here directly.
const (
	futexWaitOp = 0
	futexWakeOp = 1
)

// futexWake wakes every thread parked on addr.
func futexWake(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeOp),
		uintptr(1<<30), // wake all waiters
		0, 0, 0,
	)
}

// futexWaitUntilChanged parks on addr until its value no longer equals cur,
// the deadline (absolute UnixNano, <=0 meaning none) passes, or a spurious
// wake occurs — in which case the caller re-checks and re-parks.
func futexWaitUntilChanged(addr *uint32, cur uint32, deadlineNanos int64) (uint32, bool) {
	for {
		v := atomic.LoadUint32(addr)
		if v != cur {
			return v, true
		}

		var ts *unix.Timespec
		if deadlineNanos > 0 {
			remaining := deadlineNanos - time.Now().UnixNano()
			if remaining <= 0 {
				return v, false
			}
			t := unix.NsecToTimespec(remaining)
			ts = &t
		}

		_, _, errno := unix.Syscall6(
			unix.SYS_FUTEX,
			uintptr(unsafe.Pointer(addr)),
			uintptr(futexWaitOp),
			uintptr(cur),
			uintptr(unsafe.Pointer(ts)),
			0, 0,
		)
		if errno == unix.ETIMEDOUT {
			v := atomic.LoadUint32(addr)
			if v != cur {
				return v, true
			}
			return v, false
		}
		// EAGAIN (value already changed) / EINTR / success: loop and
		// re-check the word directly rather than trusting the wake reason.
	}
}
