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

// Package propbuild is the optional offline builder (C4): it turns
// build.prop text and a property_contexts rule set into one property-area
// file per context, plus a human-readable context-to-filename manifest.
package propbuild

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/hiking90/sysprops/contexts"
	"github.com/hiking90/sysprops/proparea"
)

// entry is one staged key/value pair, ordered by (context, name) while
// packing so each context's records land contiguously in the output area.
type entry struct {
	context string
	name    string
	value   string
}

func entryLess(a, b entry) bool {
	if a.context != b.context {
		return a.context < b.context
	}
	return a.name < b.name
}

// ParseBuildProp reads `key=value` lines, `#` comments, blank lines
// skipped; a repeated key overrides the earlier occurrence.
func ParseBuildProp(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i < 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		out[key] = value
	}
	return out, scanner.Err()
}

// ParseBuildPropFile is ParseBuildProp over a path.
func ParseBuildPropFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open build.prop %s", path)
	}
	defer f.Close()
	return ParseBuildProp(f)
}

// SerialAreaFilename names the dedicated properties_serial area the
// service bumps on every commit, giving wait_any a single well-known futex
// target across the whole namespace rather than forcing callers to
// enumerate every context area (see original_source/'s separate
// "properties_serial" context).
const SerialAreaFilename = "properties_serial.prop"

// serialAreaSize is generous: this area holds no properties, only a header
// whose serial word is bumped on every commit anywhere in the namespace.
const serialAreaSize = 4096

// Manifest is the builder's human-readable context → filename mapping,
// emitted alongside the area files. It is not required at read time when
// filenames are deterministic from context names, but aids inspection.
type Manifest struct {
	Contexts  map[string]string `yaml:"contexts"`
	SerialLog string            `yaml:"serial_log"`
}

// packedSize estimates the on-disk bytes one entry will consume: the
// prop_info fixed header, its NUL-terminated name, and its NUL-terminated
// value (or, for long ro.* values, the heap copy instead of the inline
// slot). It is intentionally generous, since Build pads with headroom too.
func packedSize(e entry) int {
	const propInfoFixed = 4 + 4 + (proparea.PropValueMax + 1)
	valueCost := len(e.value) + 1
	if valueCost < proparea.PropValueMax+1 {
		valueCost = proparea.PropValueMax + 1
	}
	return propInfoFixed + len(e.name) + 1 + valueCost + 32 // + trie node slop per entry
}

// Build groups kv by resolved context, packs each context into its own
// area file sized to the packed content times headroomMultiplier, and
// writes a manifest.yaml beside them. Returns the manifest.
func Build(idx *contexts.Index, kv map[string]string, outDir string, headroomMultiplier float64) (*Manifest, error) {
	if headroomMultiplier < 1.0 {
		headroomMultiplier = 1.0
	}

	staged := btree.NewG[entry](32, entryLess)
	unresolved := 0
	for name, value := range kv {
		ctx, ok := idx.Route(name)
		if !ok {
			unresolved++
			logrus.WithField("name", name).Warn("no context rule matched; dropping property")
			continue
		}
		staged.ReplaceOrInsert(entry{context: ctx, name: name, value: value})
	}
	if unresolved > 0 {
		logrus.WithField("count", unresolved).Warn("properties dropped for lack of a matching context rule")
	}

	byContext := map[string][]entry{}
	var order []string
	staged.Ascend(func(e entry) bool {
		if _, ok := byContext[e.context]; !ok {
			order = append(order, e.context)
		}
		byContext[e.context] = append(byContext[e.context], e)
		return true
	})

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create output dir %s", outDir)
	}

	manifest := &Manifest{Contexts: map[string]string{}}
	for _, ctx := range order {
		entries := byContext[ctx]
		filename := ctx + ".prop"
		path := filepath.Join(outDir, filename)

		size := headerAndNodeOverhead
		for _, e := range entries {
			size += packedSize(e)
		}
		size = int(float64(size) * headroomMultiplier)
		size = alignPage(size)

		area, err := proparea.CreateExclusive(path, uint32(size), proparea.VersionHeap)
		if err != nil {
			return nil, errors.Wrapf(err, "create area for context %s", ctx)
		}
		for _, e := range entries {
			if _, err := area.Add(e.name, []byte(e.value)); err != nil {
				area.Close()
				return nil, errors.Wrapf(err, "add %s to context %s", e.name, ctx)
			}
		}
		if err := area.Sync(); err != nil {
			area.Close()
			return nil, errors.Wrapf(err, "sync area for context %s", ctx)
		}
		logrus.WithFields(logrus.Fields{
			"context": ctx,
			"entries": len(entries),
			"size":    humanize.Bytes(uint64(size)),
		}).Info("wrote property area")
		if err := area.Close(); err != nil {
			return nil, errors.Wrapf(err, "close area for context %s", ctx)
		}
		manifest.Contexts[ctx] = filename
	}

	serialPath := filepath.Join(outDir, SerialAreaFilename)
	serialArea, err := proparea.CreateExclusive(serialPath, serialAreaSize, proparea.VersionHeap)
	if err != nil {
		return nil, errors.Wrap(err, "create properties_serial area")
	}
	if err := serialArea.Close(); err != nil {
		return nil, errors.Wrap(err, "close properties_serial area")
	}
	manifest.SerialLog = SerialAreaFilename

	manifestPath := filepath.Join(outDir, "manifest.yaml")
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "marshal manifest")
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, errors.Wrapf(err, "write manifest %s", manifestPath)
	}
	return manifest, nil
}

const headerAndNodeOverhead = 64 // header + root node, generous

func alignPage(n int) int {
	const pageSize = 4096
	return (n + pageSize - 1) &^ (pageSize - 1)
}
