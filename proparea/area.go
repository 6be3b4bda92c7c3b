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

// Package proparea implements the property-area file format: a packed trie
// plus value heap in one mmap'd file, and the wait-free reader / single-
// writer protocol over it.
package proparea

import (
	"encoding/binary"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/hiking90/sysprops/errkind"
)

const (
	// magicWord and the two supported versions are stable wire constants:
	// any reader must accept either version at open time.
	magicWord = 0x504f5250 // "PROP" swapped, matches the original format.

	// VersionInline stores every value in the 92-byte inline slot; an ro.*
	// value longer than PropValueMax is rejected on an area of this version.
	VersionInline uint32 = 0xfc6ed0ab
	// VersionHeap also accepts ro.* values longer than PropValueMax, storing
	// them in the long-value heap; values that fit in 92 bytes stay inline.
	VersionHeap uint32 = 0xfc6ed0ac

	// PropNameMax is the maximum byte length of a property name.
	PropNameMax = 31
	// PropValueMax is the maximum inline value length, 91 data bytes plus a
	// NUL terminator in the 92-byte slot.
	PropValueMax = 91

	headerSize = 32 // bytesUsed(4) + serial(4) + magic(4) + version(4) + reserved(16)
)

// areaHeader is the first headerSize bytes of every property-area file.
// Field order and width are part of the on-disk format and must
// not change.
type areaHeader struct {
	bytesUsed uint32
	serial    uint32 // area serial, bumped with release semantics on every commit.
	magic     uint32
	version   uint32
}

// Area is a handle to an mmap'd property-area file.
type Area struct {
	path     string
	file     *os.File
	data     mmap.MMap
	writable bool
	version  uint32
}

// CreateExclusive bump-allocates a zeroed file of size bytes, writes the
// header, and seats an empty root trie node. It fails if
// the file already exists.
func CreateExclusive(path string, size uint32, version uint32) (*Area, error) {
	if size < headerSize+nodeFixedSize {
		return nil, errkind.New(errkind.Internal, "area size too small for header and root node")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "create property area")
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "truncate property area")
	}

	data, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "mmap property area")
	}

	a := &Area{path: path, file: f, data: data, writable: true, version: version}
	a.initHeader(version)
	// Root trie node lives immediately after the header, offset 0 relative
	// to the data region, and is never relocated.
	if err := a.initRootNode(); err != nil {
		a.Close()
		os.Remove(path)
		return nil, err
	}
	return a, nil
}

// OpenReadOnly maps the file read-only, validating magic and version. Both on-disk versions are accepted.
func OpenReadOnly(path string) (*Area, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open property area")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat property area")
	}
	if info.Size() < headerSize {
		f.Close()
		return nil, errkind.New(errkind.Internal, "property area file too small")
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap property area")
	}

	a := &Area{path: path, file: f, data: data, writable: false}
	magic := binary.LittleEndian.Uint32(data[8:12])
	version := binary.LittleEndian.Uint32(data[12:16])
	if magic != magicWord {
		a.Close()
		return nil, errkind.New(errkind.Internal, "bad property area magic")
	}
	if version != VersionInline && version != VersionHeap {
		a.Close()
		return nil, errkind.New(errkind.Internal, "unsupported property area version")
	}
	a.version = version
	return a, nil
}

// OpenWritable maps an existing area file read-write, for the service to
// reopen an area created by the builder (C4) at a previous run.
func OpenWritable(path string) (*Area, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open property area")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat property area")
	}
	if info.Size() < headerSize {
		f.Close()
		return nil, errkind.New(errkind.Internal, "property area file too small")
	}
	data, err := mmap.MapRegion(f, int(info.Size()), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap property area")
	}
	a := &Area{path: path, file: f, data: data, writable: true}
	magic := binary.LittleEndian.Uint32(data[8:12])
	version := binary.LittleEndian.Uint32(data[12:16])
	if magic != magicWord || (version != VersionInline && version != VersionHeap) {
		a.Close()
		return nil, errkind.New(errkind.Internal, "bad property area magic or version")
	}
	a.version = version
	return a, nil
}

func (a *Area) initHeader(version uint32) {
	binary.LittleEndian.PutUint32(a.data[4:8], 0)
	binary.LittleEndian.PutUint32(a.data[8:12], magicWord)
	binary.LittleEndian.PutUint32(a.data[12:16], version)
	atomic.StoreUint32(a.bytesUsedPtr(), 0)
}

func (a *Area) bytesUsedPtr() *uint32 {
	return (*uint32)(ptrAt(a.data, 0))
}

func (a *Area) serialPtr() *uint32 {
	return (*uint32)(ptrAt(a.data, 4))
}

// Path returns the backing file path.
func (a *Area) Path() string { return a.path }

// Version reports which on-disk layout (VersionInline/VersionHeap) this
// area uses, selecting in-band vs. always-heap storage for long ro.* values.
func (a *Area) Version() uint32 { return a.version }

// Serial loads the area header's serial with acquire semantics. It is the futex target for wait_any.
func (a *Area) Serial() uint32 {
	return atomic.LoadUint32(a.serialPtr())
}

// bumpSerial increments the area header serial with release semantics and
// wakes any futex waiters.
func (a *Area) bumpSerial() {
	atomic.AddUint32(a.serialPtr(), 1)
	futexWake(a.serialPtr())
}

// WaitSerial parks until the area serial differs from last or the deadline
// passes. deadlineNanos<=0 means no timeout.
func (a *Area) WaitSerial(last uint32, deadlineNanos int64) (uint32, bool) {
	return futexWaitUntilChanged(a.serialPtr(), last, deadlineNanos)
}

// Sync flushes the mapping to disk; the writer calls this opportunistically,
// never on the hot path of a single update. Only ordering, not durability,
// is required for mutable keys between updates.
func (a *Area) Sync() error {
	if !a.writable {
		return nil
	}
	return a.data.Flush()
}

// Close unmaps and closes the backing file.
func (a *Area) Close() error {
	var err error
	if a.data != nil {
		err = a.data.Unmap()
	}
	if a.file != nil {
		if cerr := a.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// DataSize is the number of bytes available for trie nodes, prop_info
// records, and the long-value heap, following the header.
func (a *Area) DataSize() uint32 {
	return uint32(len(a.data)) - headerSize
}

// Touch bumps this area's header serial and wakes its futex waiters without
// touching any property. The service calls this on the dedicated
// properties_serial area after a commit lands in a different area, giving
// wait_any a single well-known futex target across the whole namespace.
func (a *Area) Touch() {
	a.bumpSerial()
}
