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

package service

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// peerCredOf retrieves SO_PEERCRED off a Unix domain socket connection.
func peerCredOf(conn *net.UnixConn) (PeerCred, error) {
	f, err := conn.File()
	if err != nil {
		return PeerCred{}, errors.Wrap(err, "dup connection fd")
	}
	defer f.Close()

	cred, err := unix.GetsockoptUcred(int(f.Fd()), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return PeerCred{}, errors.Wrap(err, "SO_PEERCRED")
	}
	return PeerCred{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
