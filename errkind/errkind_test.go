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

package errkind

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesKindAndMsg(t *testing.T) {
	err := New(InvalidName, "name too long")
	assert.Equal(t, "invalid_name: name too long", err.Error())
}

func TestErrorMessageWithoutMsgFallsBackToKind(t *testing.T) {
	err := New(AreaFull, "")
	assert.Equal(t, "area_full", err.Error())
}

func TestOfRecoversKindThroughWrap(t *testing.T) {
	base := New(ReadonlyViolation, "ro.* properties cannot be updated")
	wrapped := fmt.Errorf("set %q: %w", "ro.build.id", base)
	assert.Equal(t, ReadonlyViolation, Of(wrapped))
}

func TestOfDefaultsToInternalForUnclassifiedError(t *testing.T) {
	assert.Equal(t, Internal, Of(fmt.Errorf("boom")))
}

func TestOfReturnsOKForNil(t *testing.T) {
	assert.Equal(t, OK, Of(nil))
}

func TestKindStringUnknownValue(t *testing.T) {
	assert.Equal(t, "errkind(999)", Kind(999).String())
}
