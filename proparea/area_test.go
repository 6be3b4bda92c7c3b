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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScratchArea(t *testing.T, size uint32) *Area {
	t.Helper()
	path := filepath.Join(t.TempDir(), "default.prop")
	a, err := CreateExclusive(path, size, VersionInline)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestCreateExclusiveRejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.prop")
	a, err := CreateExclusive(path, 4096, VersionInline)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = CreateExclusive(path, 4096, VersionInline)
	assert.Error(t, err)
}

func TestCreateExclusiveRejectsTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.prop")
	_, err := CreateExclusive(path, 8, VersionInline)
	assert.Error(t, err)
}

func TestAddAndFindRoundTrip(t *testing.T) {
	a := newScratchArea(t, 64*1024)

	off, err := a.Add("ro.build.version", []byte("1.0"))
	require.NoError(t, err)

	found, ok, err := a.Find("ro.build.version")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, off, found)

	value, _, err := a.Read(found, 128)
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(value))
}

func TestFindMissingReturnsNotOK(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	_, err := a.Add("ro.build.version", []byte("1.0"))
	require.NoError(t, err)

	_, ok, err := a.Find("ro.build.fingerprint")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAddDuplicateFails(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	_, err := a.Add("persist.sys.timezone", []byte("UTC"))
	require.NoError(t, err)

	_, err = a.Add("persist.sys.timezone", []byte("PST"))
	assert.Error(t, err)
}

func TestUpdateRejectsReadOnlyName(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("ro.build.version", []byte("1.0"))
	require.NoError(t, err)

	err = a.Update(off, []byte("2.0"))
	assert.Error(t, err)
}

func TestUpdateChangesValueAndBumpsSerial(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("persist.sys.timezone", []byte("UTC"))
	require.NoError(t, err)

	before := a.Serial()
	require.NoError(t, a.Update(off, []byte("America/Los_Angeles")))

	value, _, err := a.Read(off, 128)
	require.NoError(t, err)
	assert.Equal(t, "America/Los_Angeles", string(value))
	assert.NotEqual(t, before, a.Serial())
}

func TestUpdateCounterStrictlyIncreasesAcrossSameLengthUpdates(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("persist.sys.timezone", []byte("UTC"))
	require.NoError(t, err)

	info, err := a.propInfoAt(off)
	require.NoError(t, err)
	c0 := serialCounter(info.Serial())

	require.NoError(t, a.Update(off, []byte("PST")))
	c1 := serialCounter(info.Serial())
	assert.Greater(t, c1, c0, "counter must strictly increase across a same-length update")

	require.NoError(t, a.Update(off, []byte("EST")))
	c2 := serialCounter(info.Serial())
	assert.Greater(t, c2, c1, "counter must strictly increase across a second same-length update")
}

func TestUpdateRejectsOversizedValue(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("persist.sys.timezone", []byte("UTC"))
	require.NoError(t, err)

	huge := strings.Repeat("x", PropValueMax+1)
	err = a.Update(off, []byte(huge))
	assert.Error(t, err)
}

func TestLongValueRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.prop")
	a, err := CreateExclusive(path, 64*1024, VersionHeap)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	long := strings.Repeat("v", PropValueMax+50)

	off, err := a.Add("ro.product.cert_fingerprint", []byte(long))
	require.NoError(t, err)

	value, _, err := a.Read(off, 128)
	require.NoError(t, err)
	assert.Equal(t, long, string(value))
}

func TestLongValueRejectedOnInlineVersionArea(t *testing.T) {
	a := newScratchArea(t, 64*1024) // VersionInline
	long := strings.Repeat("v", PropValueMax+50)

	_, err := a.Add("ro.product.cert_fingerprint", []byte(long))
	assert.Error(t, err)
}

func TestAddMultiSegmentNamesShareTrieLevels(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	names := []string{
		"ro.build.version",
		"ro.build.date.utc",
		"ro.build.id",
		"persist.sys.locale",
	}
	for _, n := range names {
		_, err := a.Add(n, []byte(n))
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	require.NoError(t, a.Iterate(func(name string, off uint32) error {
		seen[name] = true
		return nil
	}))
	for _, n := range names {
		assert.True(t, seen[n], "expected %s to be visited", n)
	}
}

func TestSplitNameRejectsEmptySegments(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	_, err := a.Add("ro..version", []byte("x"))
	assert.Error(t, err)

	_, err = a.Add("", []byte("x"))
	assert.Error(t, err)
}

func TestAreaFullOnExhaustion(t *testing.T) {
	a := newScratchArea(t, headerSize+nodeFixedSize+64)
	var lastErr error
	for i := 0; i < 1000; i++ {
		_, err := a.Add(fmt.Sprintf("persist.filler.%d", i), []byte("x"))
		if err != nil {
			lastErr = err
			break
		}
	}
	assert.Error(t, lastErr)
}

func TestWaitSerialWakesOnUpdate(t *testing.T) {
	a := newScratchArea(t, 64*1024)
	off, err := a.Add("persist.sys.locale", []byte("en-US"))
	require.NoError(t, err)

	last := a.Serial()
	var wg sync.WaitGroup
	wg.Add(1)
	woke := make(chan bool, 1)
	go func() {
		defer wg.Done()
		_, changed := a.WaitSerial(last, deadlineAfter(5_000_000_000))
		woke <- changed
	}()

	require.NoError(t, a.Update(off, []byte("fr-FR")))
	wg.Wait()
	assert.True(t, <-woke)
}

func TestReopenReadOnlySeesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.prop")
	a, err := CreateExclusive(path, 64*1024, VersionInline)
	require.NoError(t, err)
	_, err = a.Add("ro.build.version", []byte("1.0"))
	require.NoError(t, err)
	require.NoError(t, a.Sync())

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	off, ok, err := ro.Find("ro.build.version")
	require.NoError(t, err)
	require.True(t, ok)

	value, _, err := ro.Read(off, 128)
	require.NoError(t, err)
	assert.Equal(t, "1.0", string(value))

	require.NoError(t, a.Close())
}

func TestOpenReadOnlyRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.prop")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))

	_, err := OpenReadOnly(path)
	assert.Error(t, err)
}
