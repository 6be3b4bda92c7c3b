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

// AuthRequest is everything the Authorize hook needs to decide whether a
// mutation is allowed: who is asking, for what name, routed to which
// context, and whether they connected on the privileged system socket.
type AuthRequest struct {
	PeerUID          uint32
	PeerGID          uint32
	PeerPID          int32
	Name             string
	Context          string
	FromSystemSocket bool
}

// Authorizer decides whether a validated mutation may proceed. The default
// hook (AllowAll) matches spec §4.6's "default hook allows all on Linux
// emulation"; a real Android-style deployment would plug in a hook that
// checks SELinux, which this core does not implement.
type Authorizer func(AuthRequest) bool

// AllowAll is the default Authorizer: permission checks other than the
// ctl.* privileged-socket rule are left to the deployer.
func AllowAll(AuthRequest) bool { return true }
