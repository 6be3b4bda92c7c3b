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

// Package contexts parses property_contexts rule files into a longest-match
// router from property name to backing area context.
package contexts

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hiking90/sysprops/errkind"
)

// Rule is one parsed property_contexts line.
type Rule struct {
	Pattern  string // the raw pattern, "*" stripped off for prefix rules
	IsExact  bool
	Context  string
	TypeInfo []string
}

// Index is the loaded, sorted rule set: an ordered list of rules tried in
// specificity order (exact, then longest prefix first, then bare "*").
type Index struct {
	rules       []Rule
	contextSet  map[string]bool
	fingerprint uint64
}

// Load concatenates rule files in order, keeping first-definition order for
// ties, and sorts by specificity: exact rules first, then prefixes longest
// to shortest, then the bare "*" fallback last. A duplicate exact rule keeps
// the first occurrence and logs a warning.
func Load(paths ...string) (*Index, error) {
	var lines []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open context rules %s", path)
		}
		fileLines, err := readNonCommentLines(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read context rules %s", path)
		}
		lines = append(lines, fileLines...)
	}
	return parse(lines)
}

func readNonCommentLines(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func parse(lines []string) (*Index, error) {
	idx := &Index{contextSet: map[string]bool{}}
	seenExact := map[string]bool{}

	h := xxhash.New()
	for _, line := range lines {
		fields, err := shlex.Split(line)
		if err != nil {
			return nil, errors.Wrapf(err, "tokenize context rule %q", line)
		}
		if len(fields) < 2 {
			return nil, errkind.New(errkind.ProtocolError, "context rule missing context field: "+line)
		}
		pattern, context, typeInfo := fields[0], fields[1], fields[2:]

		h.WriteString(line)
		h.WriteString("\n")

		isExact := !strings.HasSuffix(pattern, "*")
		if isExact {
			if seenExact[pattern] {
				logrus.WithField("pattern", pattern).Warn("duplicate exact context rule, keeping first")
				continue
			}
			seenExact[pattern] = true
		} else {
			pattern = strings.TrimSuffix(pattern, "*")
		}

		idx.rules = append(idx.rules, Rule{
			Pattern:  pattern,
			IsExact:  isExact,
			Context:  context,
			TypeInfo: typeInfo,
		})
		idx.contextSet[context] = true
	}

	idx.fingerprint = h.Sum64()
	sortRules(idx.rules)
	return idx, nil
}

// sortRules orders exact matches first, then prefixes longest-to-shortest
// (so the most specific prefix is tried before a shorter one), then the
// bare "*" wildcard last. Ties preserve definition order (stable sort).
func sortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.IsExact != b.IsExact {
			return a.IsExact
		}
		if a.IsExact {
			return false
		}
		if a.Pattern == "" || b.Pattern == "" {
			return a.Pattern != "" // non-empty (more specific) prefix sorts before bare "*"
		}
		return len(a.Pattern) > len(b.Pattern)
	})
}

// Route resolves name to exactly one context, or ok=false if nothing
// matched (no "*" fallback present).
func (idx *Index) Route(name string) (context string, ok bool) {
	for _, r := range idx.rules {
		if r.IsExact {
			if r.Pattern == name {
				return r.Context, true
			}
			continue
		}
		if strings.HasPrefix(name, r.Pattern) {
			return r.Context, true
		}
	}
	return "", false
}

// Contexts returns the distinct set of backing-file context names used by
// this rule set, sorted for deterministic iteration.
func (idx *Index) Contexts() []string {
	out := make([]string, 0, len(idx.contextSet))
	for c := range idx.contextSet {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Fingerprint is a hash of the exact rule text this Index was built from,
// used by Loader to tell whether the files changed since its previous call.
func (idx *Index) Fingerprint() uint64 {
	return idx.fingerprint
}

// Loader makes Load idempotent-safe: calling Load with the same unchanged
// file set twice in a process returns the same cached Index. The files are
// still read and parsed on every call; only the returned Index is reused.
type Loader struct {
	mu   sync.Mutex
	key  string
	last *Index
}

// Load parses paths, then returns the cached Index instead of the fresh one
// if paths (joined) and the rule fingerprint match the previous call.
func (l *Loader) Load(paths ...string) (*Index, error) {
	key := strings.Join(paths, "\x00")

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, err := Load(paths...)
	if err != nil {
		return nil, err
	}
	if l.last != nil && l.key == key && l.last.Fingerprint() == idx.Fingerprint() {
		logrus.WithField("paths", paths).Debug("context rules unchanged, reusing loaded index")
		return l.last, nil
	}
	l.key, l.last = key, idx
	return idx, nil
}
