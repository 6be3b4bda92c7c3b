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

	"github.com/hiking90/sysprops/errkind"
)

// propInfo is the fixed-size header of a property record:
//
//	serial     u32   (length<<24) | dirty | (counter<<1)
//	longOffset u32   0 for inline values; otherwise the offset of a
//	                 NUL-terminated long value elsewhere in the heap
//	value      [92]  inline payload, valid when longOffset == 0
//	name       ...   NUL-terminated, trailing, not part of the fixed size
//
// The spec's abstract layout describes two on-disk shapes ("serial, value
// [92], name" vs. "serial, long_value_offset, value[92] (unused), name");
// this implementation unifies them into one fixed shape discriminated by
// longOffset, rather than stealing a bit from the 32-bit serial word the way
// the original bit-packs LONG_FLAG into it.
const (
	propInfoFixedSize = 4 + 4 + (PropValueMax + 1)
	serialDirtyBit    = 1
	serialLenShift    = 24
	serialCounterMask = ((uint32(1) << serialLenShift) - 1) >> 1 << 1 // bits 1..23
)

func encodeSerial(length int, dirty bool, counter uint32) uint32 {
	s := uint32(length) << serialLenShift
	s |= (counter << 1) & serialCounterMask
	if dirty {
		s |= serialDirtyBit
	}
	return s
}

func serialLen(s uint32) int      { return int(s >> serialLenShift) }
func serialDirty(s uint32) bool   { return s&serialDirtyBit != 0 }
func serialCounter(s uint32) uint32 { return (s & serialCounterMask) >> 1 }

// propInfoView is a cursor over a live propInfo record inside an Area.
type propInfoView struct {
	area *Area
	off  uint32 // offset of the record, relative to the data region
}

func (a *Area) propInfoAt(off uint32) (propInfoView, error) {
	if _, err := a.dataSlice(off, propInfoFixedSize); err != nil {
		return propInfoView{}, err
	}
	return propInfoView{area: a, off: off}, nil
}

func (p propInfoView) serialPtr() *uint32 {
	b, _ := p.area.dataSlice(p.off, 4)
	return (*uint32)(ptrAt(b, 0))
}

func (p propInfoView) longOffsetPtr() *uint32 {
	b, _ := p.area.dataSlice(p.off+4, 4)
	return (*uint32)(ptrAt(b, 0))
}

func (p propInfoView) valueBuf() []byte {
	b, _ := p.area.dataSlice(p.off+8, PropValueMax+1)
	return b
}

// Name returns this record's NUL-terminated name, which follows the fixed
// header immediately.
func (p propInfoView) Name() string {
	nameStart := p.off + propInfoFixedSize
	region := p.area.data[headerSize+nameStart:]
	n := indexByte(region, 0)
	if n < 0 {
		n = len(region)
	}
	return string(region[:n])
}

// Serial exposes the raw serial word.
func (p propInfoView) Serial() uint32 {
	return atomic.LoadUint32(p.serialPtr())
}

// WaitPropSerial parks until the prop_info at off has a serial different
// from last, or the deadline passes. This is the single-property form of
// wait: it targets that record's own serial word rather than the area
// header, so one property changing does not wake every waiter on the area.
func (a *Area) WaitPropSerial(off uint32, last uint32, deadlineNanos int64) (uint32, bool, error) {
	info, err := a.propInfoAt(off)
	if err != nil {
		return 0, false, err
	}
	v, changed := futexWaitUntilChanged(info.serialPtr(), last, deadlineNanos)
	return v, changed, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// newPropInfo allocates and initializes a fixed-size record plus trailing
// name, storing value inline if it fits, else through the long-value heap.
func (a *Area) newPropInfo(name string, value []byte) (uint32, error) {
	if len(name) == 0 || len(name) > PropNameMax {
		return 0, errkind.New(errkind.InvalidName, "name length out of range")
	}
	isRO := isReadOnlyName(name)
	if !isRO && len(value) > PropValueMax {
		return 0, errkind.New(errkind.InvalidValue, "value too long for mutable key")
	}
	if isRO && len(value) > PropValueMax && a.version != VersionHeap {
		return 0, errkind.New(errkind.InvalidValue, "long ro.* value requires a long-value-heap area")
	}

	off, err := a.allocRaw(propInfoFixedSize + len(name) + 1)
	if err != nil {
		return 0, err
	}
	info, _ := a.propInfoAt(off)

	nameRegion := a.data[headerSize+off+propInfoFixedSize:]
	copy(nameRegion, name)
	nameRegion[len(name)] = 0

	if len(value) <= PropValueMax {
		atomic.StoreUint32(info.longOffsetPtr(), 0)
		buf := info.valueBuf()
		copy(buf, value)
		buf[len(value)] = 0
		atomic.StoreUint32(info.serialPtr(), encodeSerial(len(value), false, 0))
		return off, nil
	}

	// Long value: bump-allocate a NUL-terminated record in the heap and
	// store its offset (relative to the data region) in longOffset.
	longOff, err := a.allocRaw(len(value) + 1)
	if err != nil {
		return 0, err
	}
	longBuf, _ := a.dataSlice(longOff, len(value)+1)
	copy(longBuf, value)
	longBuf[len(value)] = 0

	atomic.StoreUint32(info.longOffsetPtr(), longOff)
	atomic.StoreUint32(info.serialPtr(), encodeSerial(len(value), false, 0))
	return off, nil
}

// Read implements the wait-free reader protocol: spin on the
// dirty bit up to a bounded number of iterations, then park via futex on
// this record's own serial word, and retry the whole read if the serial
// changed out from under the copy.
func (a *Area) Read(off uint32, spinLimit int) ([]byte, uint32, error) {
	info, err := a.propInfoAt(off)
	if err != nil {
		return nil, 0, err
	}

	for {
		s1 := atomic.LoadUint32(info.serialPtr())
		spins := 0
		for serialDirty(s1) {
			spins++
			if spins > spinLimit {
				futexWaitUntilChanged(info.serialPtr(), s1, deadlineAfter(defaultDirtySpinWait))
				spins = 0
			} else {
				yieldCPU()
			}
			s1 = atomic.LoadUint32(info.serialPtr())
		}

		longOff := atomic.LoadUint32(info.longOffsetPtr())
		var value []byte
		if longOff == 0 {
			n := serialLen(s1)
			if n > PropValueMax {
				n = PropValueMax
			}
			value = append([]byte(nil), info.valueBuf()[:n]...)
		} else {
			value, err = a.readLongValue(longOff)
			if err != nil {
				return nil, 0, err
			}
		}

		s2 := atomic.LoadUint32(info.serialPtr())
		if s1 == s2 {
			return value, s1, nil
		}
		// serial moved under us (another update began/ended); retry.
	}
}

func (a *Area) readLongValue(off uint32) ([]byte, error) {
	region := a.data[headerSize+off:]
	n := indexByte(region, 0)
	if n < 0 {
		return nil, errkind.New(errkind.Internal, "unterminated long property value")
	}
	return append([]byte(nil), region[:n]...), nil
}

// Update overwrites an existing record's value in place following the
// writer protocol: mark dirty, copy bytes, clear dirty with the
// new length, bump the area serial, wake futex waiters. It never leaves a
// partially written value observable.
func (a *Area) Update(off uint32, value []byte) error {
	info, err := a.propInfoAt(off)
	if err != nil {
		return err
	}
	if isReadOnlyName(info.Name()) {
		return errkind.New(errkind.ReadonlyViolation, "ro.* properties cannot be updated")
	}
	if len(value) > PropValueMax {
		return errkind.New(errkind.InvalidValue, "value too long for mutable key")
	}

	old := atomic.LoadUint32(info.serialPtr())
	counter := serialCounter(old) + 1
	dirtyWord := encodeSerial(serialLen(old), true, counter)

	atomic.StoreUint32(info.serialPtr(), dirtyWord)
	buf := info.valueBuf()
	copy(buf, value)
	buf[len(value)] = 0

	cleanWord := encodeSerial(len(value), false, counter)
	atomic.StoreUint32(info.serialPtr(), cleanWord)
	futexWake(info.serialPtr())

	a.bumpSerial()
	return nil
}

func isReadOnlyName(name string) bool {
	return len(name) >= 3 && name[:3] == "ro."
}
