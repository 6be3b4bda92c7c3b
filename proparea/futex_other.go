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

//go:build !linux

package proparea

import "time"

// pollInterval is the fallback wait granularity on platforms without a
// futex syscall.
const pollInterval = 500 * time.Microsecond

// futexWake is a no-op outside Linux: there is nothing parked on a kernel
// word to wake, since futexWaitUntilChanged below polls instead.
func futexWake(addr *uint32) {}

func futexWaitUntilChanged(addr *uint32, cur uint32, deadlineNanos int64) (uint32, bool) {
	return waitChanged(addr, cur, deadlineNanos, pollInterval)
}
