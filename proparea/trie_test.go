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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmpPropNameOrdersByLengthThenBytes(t *testing.T) {
	assert.Equal(t, 0, cmpPropName("ro", "ro"))
	assert.Equal(t, -1, cmpPropName("a", "bb"))
	assert.Equal(t, 1, cmpPropName("bb", "a"))
	assert.Equal(t, -1, cmpPropName("aa", "ab"))
	assert.Equal(t, 1, cmpPropName("ab", "aa"))
}

func TestSplitNameSegments(t *testing.T) {
	segs, err := splitName("ro.build.version.sdk")
	require.NoError(t, err)
	assert.Equal(t, []string{"ro", "build", "version", "sdk"}, segs)

	_, err = splitName("ro.")
	assert.Error(t, err)

	_, err = splitName(".ro")
	assert.Error(t, err)
}

func TestIterateVisitsInPreOrderAcrossSiblingsAndChildren(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	names := []string{
		"b.one",
		"a.one",
		"c.one",
		"a.two",
	}
	for _, n := range names {
		_, err := a.Add(n, []byte(n))
		require.NoError(t, err)
	}

	var order []string
	require.NoError(t, a.Iterate(func(name string, off uint32) error {
		order = append(order, name)
		return nil
	}))
	assert.Equal(t, []string{"a.one", "a.two", "b.one", "c.one"}, order)
}

func TestForeachPropInfoSinceFiltersByCounter(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("persist.sys.locale", []byte("en-US"))
	require.NoError(t, err)

	var visited []string
	require.NoError(t, a.ForeachPropInfoSince(0, func(name string, off uint32, serial uint32) error {
		visited = append(visited, name)
		return nil
	}))
	assert.Contains(t, visited, "persist.sys.locale")

	require.NoError(t, a.Update(off, []byte("fr-FR")))

	visited = nil
	require.NoError(t, a.ForeachPropInfoSince(1, func(name string, off uint32, serial uint32) error {
		visited = append(visited, name)
		return nil
	}))
	assert.Contains(t, visited, "persist.sys.locale")
}
