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

package service

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hiking90/sysprops/proparea"
)

// persistRecord is one replayed (name, value) pair from the persist log.
type persistRecord struct {
	Name  string
	Value string
}

// maxPersistValue bounds a single persist-log record's value field,
// guarding replay against a corrupt length prefix that would otherwise
// claim an enormous read.
const maxPersistValue = 1 << 20

// persistLog is the append-only log of persist.* mutations, replayed at
// startup before the service accepts connections. Each record is
// length-prefixed and CRC32-checked so a crash mid-write leaves, at worst,
// one truncatable trailing record.
type persistLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// openPersistLog opens (creating if absent) the log file for appending.
func openPersistLog(path string) (*persistLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open persist log %s", path)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "seek persist log")
	}
	return &persistLog{f: f, path: path}, nil
}

// Append writes one (name, value) record and fsyncs it before returning, so
// a reply to the client is never sent ahead of the record reaching disk.
func (p *persistLog) Append(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := encodePersistRecord(name, value)
	if _, err := p.f.Write(rec); err != nil {
		return errors.Wrap(err, "append persist record")
	}
	return p.f.Sync()
}

func (p *persistLog) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// encodePersistRecord renders name_len(u32) value_len(u32) name value
// crc32(u32), the crc covering everything before it.
func encodePersistRecord(name, value string) []byte {
	nameB, valueB := []byte(name), []byte(value)
	buf := make([]byte, 8+len(nameB)+len(valueB)+4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(nameB)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(valueB)))
	copy(buf[8:], nameB)
	copy(buf[8+len(nameB):], valueB)
	payload := buf[:8+len(nameB)+len(valueB)]
	crc := crc32.ChecksumIEEE(payload)
	binary.LittleEndian.PutUint32(buf[8+len(nameB)+len(valueB):], crc)
	return buf
}

// replayPersistLog reads every complete record from path in order. On the
// first short read, oversized length prefix, or CRC mismatch it stops and
// truncates the file to the end of the last good record: a corrupt tail is
// a warning, never a fatal error, matching §7's persist-log recovery
// posture.
func replayPersistLog(path string) ([]persistRecord, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open persist log %s", path)
	}
	defer f.Close()

	var records []persistRecord
	var goodOffset int64

	for {
		var lenBuf [8]byte
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			break
		}
		nameLen := binary.LittleEndian.Uint32(lenBuf[0:4])
		valueLen := binary.LittleEndian.Uint32(lenBuf[4:8])
		if nameLen > proparea.PropNameMax || valueLen > maxPersistValue {
			logrus.WithField("path", path).Warn("persist log record length out of range, truncating tail")
			break
		}

		body := make([]byte, nameLen+valueLen+4)
		if _, err := io.ReadFull(f, body); err != nil {
			logrus.WithField("path", path).Warn("persist log tail short, truncating")
			break
		}

		payload := append(append([]byte{}, lenBuf[:]...), body[:nameLen+valueLen]...)
		wantCRC := binary.LittleEndian.Uint32(body[nameLen+valueLen:])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			logrus.WithField("path", path).Warn("persist log record CRC mismatch, truncating tail")
			break
		}

		records = append(records, persistRecord{
			Name:  string(body[:nameLen]),
			Value: string(body[nameLen : nameLen+valueLen]),
		})
		goodOffset += int64(len(lenBuf)) + int64(len(body))
	}

	if err := f.Truncate(goodOffset); err != nil {
		return records, errors.Wrap(err, "truncate persist log tail")
	}
	return records, nil
}
