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

package service

import "net"

// peerCredOf has no portable equivalent of SO_PEERCRED outside Linux; the
// authorization hook sees a zero-value PeerCred on these platforms.
func peerCredOf(conn *net.UnixConn) (PeerCred, error) {
	return PeerCred{}, nil
}
