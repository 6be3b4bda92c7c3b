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

// Package wire implements the two framings of the client-to-service set
// protocol: the fixed-width V1 frame and the length-prefixed V2 frame with
// its numeric reply.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/hiking90/sysprops/errkind"
)

const (
	// CmdSetProp is the V1 legacy command.
	CmdSetProp uint32 = 1
	// CmdSetProp2 is the V2 length-prefixed command.
	CmdSetProp2 uint32 = 2

	v1NameField  = 32
	v1ValueField = 92

	// MaxNameLen bounds a V2 request's declared name length. The declared
	// value length is bounded only by maxLongValueLen, since the decoder does
	// no name/ro.* classification; MaxGeneralValueLen is the general value
	// limit and is not checked by the decoder. Both bounds guard against a
	// hostile peer claiming an enormous length prefix.
	MaxNameLen         = 31
	MaxGeneralValueLen = 91
	maxLongValueLen    = 1 << 16 // generous ceiling for ro.* long values over the wire
)

// Request is a decoded set request, independent of which frame carried it.
type Request struct {
	Version int
	Name    string
	Value   string
}

// EncodeV1 renders name/value into the fixed 128-byte legacy frame. name
// must fit in 31 bytes plus NUL and value in 91 bytes plus NUL.
func EncodeV1(name, value string) ([]byte, error) {
	if len(name) > v1NameField-1 {
		return nil, errkind.New(errkind.InvalidName, "name too long for V1 frame")
	}
	if len(value) > v1ValueField-1 {
		return nil, errkind.New(errkind.InvalidValue, "value too long for V1 frame")
	}
	buf := make([]byte, 4+v1NameField+v1ValueField)
	binary.LittleEndian.PutUint32(buf[0:4], CmdSetProp)
	copy(buf[4:4+v1NameField], name)
	copy(buf[4+v1NameField:], value)
	return buf, nil
}

// DecodeV1 reads the 124 bytes following the already-consumed cmd word.
func DecodeV1(r io.Reader) (Request, error) {
	buf := make([]byte, v1NameField+v1ValueField)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Request{}, errors.Wrap(err, "read V1 frame body")
	}
	name := cString(buf[:v1NameField])
	value := cString(buf[v1NameField:])
	return Request{Version: 1, Name: name, Value: value}, nil
}

// EncodeV2Request renders name/value into the length-prefixed V2 frame.
func EncodeV2Request(name, value string) ([]byte, error) {
	if len(name) > MaxNameLen {
		return nil, errkind.New(errkind.InvalidName, "name too long for V2 frame")
	}
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], CmdSetProp2)
	buf.Write(hdr[:])

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(name)))
	buf.Write(hdr[:])
	buf.WriteString(name)

	binary.LittleEndian.PutUint32(hdr[:], uint32(len(value)))
	buf.Write(hdr[:])
	buf.WriteString(value)
	return buf.Bytes(), nil
}

// DecodeV2Request reads the name_len/name/value_len/value fields following
// the already-consumed cmd word.
func DecodeV2Request(r io.Reader) (Request, error) {
	nameLen, err := readU32(r)
	if err != nil {
		return Request{}, err
	}
	if nameLen > MaxNameLen {
		return Request{}, errkind.New(errkind.ProtocolError, "V2 name_len exceeds maximum")
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return Request{}, errors.Wrap(err, "read V2 name")
	}

	valueLen, err := readU32(r)
	if err != nil {
		return Request{}, err
	}
	if valueLen > maxLongValueLen {
		return Request{}, errkind.New(errkind.ProtocolError, "V2 value_len exceeds maximum")
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return Request{}, errors.Wrap(err, "read V2 value")
	}
	return Request{Version: 2, Name: string(name), Value: string(value)}, nil
}

// EncodeV2Reply renders the single-word numeric result.
func EncodeV2Reply(kind errkind.Kind) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(kind))
	return buf
}

// DecodeV2Reply reads the single-word numeric result.
func DecodeV2Reply(r io.Reader) (errkind.Kind, error) {
	v, err := readU32(r)
	if err != nil {
		return errkind.Internal, err
	}
	return errkind.Kind(v), nil
}

// ReadRequest reads the first 4 bytes of a connection to detect which
// framing the peer used, then decodes the rest accordingly. An unrecognized
// command is a protocol_error.
func ReadRequest(r io.Reader) (Request, error) {
	cmd, err := readU32(r)
	if err != nil {
		return Request{}, err
	}
	switch cmd {
	case CmdSetProp:
		return DecodeV1(r)
	case CmdSetProp2:
		return DecodeV2Request(r)
	default:
		return Request{}, errkind.New(errkind.ProtocolError, "unknown set command")
	}
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.Wrap(err, "read u32 frame field")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
