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

package contexts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "property_contexts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRouteLongestPrefixWins(t *testing.T) {
	path := writeRules(t, `
persist.*       cA
persist.sys.*   cB
*               c0
`)
	idx, err := Load(path)
	require.NoError(t, err)

	ctx, ok := idx.Route("persist.sys.tz")
	require.True(t, ok)
	assert.Equal(t, "cB", ctx)

	ctx, ok = idx.Route("persist.other")
	require.True(t, ok)
	assert.Equal(t, "cA", ctx)

	ctx, ok = idx.Route("debug.a")
	require.True(t, ok)
	assert.Equal(t, "c0", ctx)
}

func TestRouteExactBeatsPrefix(t *testing.T) {
	path := writeRules(t, `
ro.build.*      cPrefix
ro.build.id     cExact
*               c0
`)
	idx, err := Load(path)
	require.NoError(t, err)

	ctx, ok := idx.Route("ro.build.id")
	require.True(t, ok)
	assert.Equal(t, "cExact", ctx)

	ctx, ok = idx.Route("ro.build.fingerprint")
	require.True(t, ok)
	assert.Equal(t, "cPrefix", ctx)
}

func TestRouteNoFallbackFailsExplicitly(t *testing.T) {
	path := writeRules(t, `ro.build.* cPrefix`)
	idx, err := Load(path)
	require.NoError(t, err)

	_, ok := idx.Route("debug.a")
	assert.False(t, ok)
}

func TestDuplicateExactRuleFirstWins(t *testing.T) {
	path := writeRules(t, `
ro.build.id   cFirst
ro.build.id   cSecond
`)
	idx, err := Load(path)
	require.NoError(t, err)

	ctx, ok := idx.Route("ro.build.id")
	require.True(t, ok)
	assert.Equal(t, "cFirst", ctx)
}

func TestContextsReturnsDistinctSortedSet(t *testing.T) {
	path := writeRules(t, `
persist.*  cB
ro.*       cA
*          cA
`)
	idx, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cA", "cB"}, idx.Contexts())
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	path := writeRules(t, `
# comment

ro.build.id  cA   # trailing comment
`)
	idx, err := Load(path)
	require.NoError(t, err)
	ctx, ok := idx.Route("ro.build.id")
	require.True(t, ok)
	assert.Equal(t, "cA", ctx)
}

func TestLoaderReusesIndexWhenUnchanged(t *testing.T) {
	path := writeRules(t, `ro.build.id cA`)
	var l Loader

	first, err := l.Load(path)
	require.NoError(t, err)

	second, err := l.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

// TestRoutingTableMatchesExpectedShape structurally diffs every name's
// routed context against an expected table, so a regression that routes
// one name to the wrong context shows exactly which entry diverged rather
// than a single opaque assert.Equal failure.
func TestRoutingTableMatchesExpectedShape(t *testing.T) {
	path := writeRules(t, `
persist.sys.*   cSys
persist.*       cPersist
ro.build.id     cExact
ro.build.*      cBuild
*               c0
`)
	idx, err := Load(path)
	require.NoError(t, err)

	names := []string{
		"persist.sys.tz",
		"persist.other",
		"ro.build.id",
		"ro.build.fingerprint",
		"debug.a",
	}
	got := map[string]string{}
	for _, name := range names {
		ctx, ok := idx.Route(name)
		require.True(t, ok, "expected a route for %s", name)
		got[name] = ctx
	}

	want := map[string]string{
		"persist.sys.tz":       "cSys",
		"persist.other":        "cPersist",
		"ro.build.id":          "cExact",
		"ro.build.fingerprint": "cBuild",
		"debug.a":              "c0",
	}
	if diff := pretty.Compare(want, got); diff != "" {
		t.Fatalf("routing table diverged from expected shape:\n%s", diff)
	}
}

func TestLoaderReparsesWhenContentChanges(t *testing.T) {
	path := writeRules(t, `ro.build.id cA`)
	var l Loader

	first, err := l.Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("ro.build.id cB"), 0644))
	second, err := l.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	ctx, _ := second.Route("ro.build.id")
	assert.Equal(t, "cB", ctx)
}
