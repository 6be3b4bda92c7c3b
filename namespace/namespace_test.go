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

package namespace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiking90/sysprops/contexts"
	"github.com/hiking90/sysprops/proparea"
)

func buildTestNamespace(t *testing.T) (*Namespace, map[string]*proparea.Area) {
	t.Helper()
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "property_contexts")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`
persist.*  cA
*          c0
`), 0644))
	idx, err := contexts.Load(rulesPath)
	require.NoError(t, err)

	areas := map[string]*proparea.Area{}
	for _, ctx := range idx.Contexts() {
		a, err := proparea.CreateExclusive(filepath.Join(dir, ctx+".prop"), 64*1024, proparea.VersionInline)
		require.NoError(t, err)
		areas[ctx] = a
	}
	t.Cleanup(func() {
		for _, a := range areas {
			a.Close()
		}
	})

	ns, err := New(idx, areas, idx.Contexts(), nil)
	require.NoError(t, err)
	return ns, areas
}

func TestGetRoutesThroughContextsAndReadsArea(t *testing.T) {
	ns, areas := buildTestNamespace(t)
	_, err := areas["cA"].Add("persist.sys.tz", []byte("UTC"))
	require.NoError(t, err)

	value, _, ok, err := ns.Get("persist.sys.tz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "UTC", string(value))
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	ns, _ := buildTestNamespace(t)
	_, _, ok, err := ns.Get("debug.a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIterateVisitsEveryAreaInLoadOrder(t *testing.T) {
	ns, areas := buildTestNamespace(t)
	_, err := areas["cA"].Add("persist.sys.tz", []byte("UTC"))
	require.NoError(t, err)
	_, err = areas["c0"].Add("debug.a", []byte("hello"))
	require.NoError(t, err)

	seen := map[string]string{}
	require.NoError(t, ns.Iterate(func(context, name string, value []byte) error {
		seen[name] = context
		return nil
	}))
	assert.Equal(t, "cA", seen["persist.sys.tz"])
	assert.Equal(t, "c0", seen["debug.a"])
}

func TestWaitUnblocksOnUpdate(t *testing.T) {
	ns, areas := buildTestNamespace(t)
	off, err := areas["cA"].Add("persist.sys.tz", []byte("UTC"))
	require.NoError(t, err)

	area, foundOff, ok, err := ns.Find("persist.sys.tz")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, off, foundOff)

	_, lastSerial, err := area.Read(foundOff, 128)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	result := make(chan bool, 1)
	go func() {
		defer wg.Done()
		_, changed, err := Wait(area, foundOff, lastSerial, 5*time.Second)
		require.NoError(t, err)
		result <- changed
	}()

	require.NoError(t, areas["cA"].Update(off, []byte("PST")))
	wg.Wait()
	assert.True(t, <-result)
}

func TestWaitAnyFallbackDetectsAnyAreaChange(t *testing.T) {
	ns, areas := buildTestNamespace(t)
	off, err := areas["c0"].Add("debug.a", []byte("1"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	result := make(chan bool, 1)
	go func() {
		defer wg.Done()
		_, _, changed, err := ns.WaitAny(5 * time.Second)
		require.NoError(t, err)
		result <- changed
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, areas["c0"].Update(off, []byte("2")))
	wg.Wait()
	assert.True(t, <-result)
}

func TestWaitAnyTimesOutWhenNothingChanges(t *testing.T) {
	ns, _ := buildTestNamespace(t)
	_, _, changed, err := ns.WaitAny(100 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, changed)
}
