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

// Package errkind defines the stable error kinds shared by the wire
// protocol, the client library, and the property service.
package errkind

import "fmt"

// Kind is a stable error classification. Its integer value is what the V2
// wire protocol sends back to clients, so the values must never be
// renumbered once released.
type Kind uint32

const (
	OK Kind = iota
	InvalidName
	InvalidValue
	ReadonlyViolation
	PermissionDenied
	NoContext
	AreaFull
	NotInitialized
	ServiceUnavailable
	ProtocolError
	Internal
)

var names = map[Kind]string{
	OK:                 "ok",
	InvalidName:        "invalid_name",
	InvalidValue:       "invalid_value",
	ReadonlyViolation:  "readonly_violation",
	PermissionDenied:   "permission_denied",
	NoContext:          "no_context",
	AreaFull:           "area_full",
	NotInitialized:     "not_initialized",
	ServiceUnavailable: "service_unavailable",
	ProtocolError:      "protocol_error",
	Internal:           "internal",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return fmt.Sprintf("errkind(%d)", uint32(k))
}

// Error wraps a Kind so it satisfies the error interface while letting
// callers recover the classification with As.
type Error struct {
	Kind Kind
	Msg  string
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Msg: msg}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Msg)
}

// Of extracts the Kind from err, defaulting to Internal for any error that
// was not classified by this package (never nil if err is a matched *Error,
// otherwise a best-effort fallback).
func Of(err error) Kind {
	if err == nil {
		return OK
	}
	var se *Error
	for {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
		if err == nil {
			break
		}
	}
	if se != nil {
		return se.Kind
	}
	return Internal
}
