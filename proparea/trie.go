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
	"strings"
	"sync/atomic"

	"github.com/hiking90/sysprops/errkind"
)

// nodeFixedSize is the width of a trie node's fixed header. This implementation resolves the spec's abstract
// {name_offset, prop_offset, children_offset, namespace_offsets[3]} sketch
// the way the original source actually implements it: one pointer to the
// next dot-level ("children"), one pointer to an attached property
// ("prop"), and a same-level sibling BST ("left"/"right") ordered by
// (length, bytes) — see DESIGN.md for why the prefix/exact split described
// abstractly in spec.md collapses to this simpler, equivalent shape for C1
// (that split is real and lives in the context index, C2, instead).
const nodeFixedSize = 20 // nameLen, prop, left, right, children

type trieNodeView struct {
	area *Area
	off  uint32
}

func (a *Area) nodeAt(off uint32) (trieNodeView, error) {
	if _, err := a.dataSlice(off, nodeFixedSize); err != nil {
		return trieNodeView{}, err
	}
	return trieNodeView{area: a, off: off}, nil
}

func (n trieNodeView) field(i int) *uint32 {
	b, _ := n.area.dataSlice(n.off+uint32(i*4), 4)
	return (*uint32)(ptrAt(b, 0))
}

func (n trieNodeView) nameLenPtr() *uint32     { return n.field(0) }
func (n trieNodeView) propPtr() *uint32        { return n.field(1) }
func (n trieNodeView) leftPtr() *uint32        { return n.field(2) }
func (n trieNodeView) rightPtr() *uint32       { return n.field(3) }
func (n trieNodeView) childrenPtr() *uint32    { return n.field(4) }

func (n trieNodeView) name() string {
	l := atomic.LoadUint32(n.nameLenPtr())
	region := n.area.data[headerSize+n.off+nodeFixedSize:]
	if uint32(len(region)) < l {
		return ""
	}
	return string(region[:l])
}

func (a *Area) initRootNode() error {
	off, err := a.allocRaw(nodeFixedSize + 1)
	if err != nil {
		return err
	}
	if off != 0 {
		return errkind.New(errkind.Internal, "root trie node must be the first allocation")
	}
	return nil
}

func (a *Area) newTrieNode(name string) (uint32, error) {
	off, err := a.allocRaw(nodeFixedSize + len(name) + 1)
	if err != nil {
		return 0, err
	}
	node, _ := a.nodeAt(off)
	atomic.StoreUint32(node.nameLenPtr(), uint32(len(name)))
	nameRegion := a.data[headerSize+off+nodeFixedSize:]
	copy(nameRegion, name)
	nameRegion[len(name)] = 0
	return off, nil
}

// cmpPropName orders by length first, then bytes — the same comparator the
// original source uses for its sibling BST, so names of differing length
// never collide on byte-prefix alone.
func cmpPropName(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// findSibling walks the BST rooted at "start", keyed by cmpPropName, for the
// node matching name. If allocIfNeeded is set, a missing sibling is created
// and linked in.
func (a *Area) findSibling(startOff uint32, name string, allocIfNeeded bool) (uint32, error) {
	cur := startOff
	for {
		node, err := a.nodeAt(cur)
		if err != nil {
			return 0, err
		}
		switch cmpPropName(name, node.name()) {
		case 0:
			return cur, nil
		case -1:
			next := atomic.LoadUint32(node.leftPtr())
			if next != 0 {
				cur = next
				continue
			}
			if !allocIfNeeded {
				return 0, nil
			}
			newOff, err := a.newTrieNode(name)
			if err != nil {
				return 0, err
			}
			atomic.StoreUint32(node.leftPtr(), newOff)
			return newOff, nil
		default:
			next := atomic.LoadUint32(node.rightPtr())
			if next != 0 {
				cur = next
				continue
			}
			if !allocIfNeeded {
				return 0, nil
			}
			newOff, err := a.newTrieNode(name)
			if err != nil {
				return 0, err
			}
			atomic.StoreUint32(node.rightPtr(), newOff)
			return newOff, nil
		}
	}
}

// splitName splits a dotted property name into its segments, rejecting
// empty segments.
func splitName(name string) ([]string, error) {
	if name == "" {
		return nil, errkind.New(errkind.InvalidName, "empty property name")
	}
	parts := strings.Split(name, ".")
	for _, p := range parts {
		if p == "" {
			return nil, errkind.New(errkind.InvalidName, "empty name segment")
		}
	}
	return parts, nil
}

// findNode descends the trie one dot-segment at a time, finding (or, if
// allocIfNeeded, creating) the node whose sibling-BST entry matches each
// segment and whose children pointer roots the next level.
func (a *Area) findNode(name string, allocIfNeeded bool) (uint32, error) {
	segments, err := splitName(name)
	if err != nil {
		return 0, err
	}

	levelRoot := uint32(0) // the area's single root node
	var cur uint32
	for i, seg := range segments {
		matched, err := a.findSibling(levelRoot, seg, allocIfNeeded)
		if err != nil {
			return 0, err
		}
		if matched == 0 {
			return 0, nil
		}
		cur = matched
		if i == len(segments)-1 {
			break
		}
		node, _ := a.nodeAt(cur)
		children := atomic.LoadUint32(node.childrenPtr())
		if children == 0 {
			if !allocIfNeeded {
				return 0, nil
			}
			childOff, err := a.newTrieNode(segments[i+1])
			if err != nil {
				return 0, err
			}
			atomic.StoreUint32(node.childrenPtr(), childOff)
			levelRoot = childOff
		} else {
			levelRoot = children
		}
	}
	return cur, nil
}

// Find walks the trie for name, returning the offset of its prop_info, or
// ok=false if not present.
func (a *Area) Find(name string) (off uint32, ok bool, err error) {
	nodeOff, err := a.findNode(name, false)
	if err != nil {
		return 0, false, err
	}
	if nodeOff == 0 {
		return 0, false, nil
	}
	node, _ := a.nodeAt(nodeOff)
	p := atomic.LoadUint32(node.propPtr())
	if p == 0 {
		return 0, false, nil
	}
	return p, true, nil
}

// Add allocates trie nodes as needed and a prop_info record, failing if the
// name already exists.
func (a *Area) Add(name string, value []byte) (uint32, error) {
	nodeOff, err := a.findNode(name, true)
	if err != nil {
		return 0, err
	}
	node, _ := a.nodeAt(nodeOff)
	if atomic.LoadUint32(node.propPtr()) != 0 {
		return 0, errkind.New(errkind.Internal, "property already exists")
	}
	propOff, err := a.newPropInfo(name, value)
	if err != nil {
		return 0, err
	}
	atomic.StoreUint32(node.propPtr(), propOff)
	a.bumpSerial()
	return propOff, nil
}

// Iterate performs a pre-order walk of the trie, delivering each prop_info
// exactly once.
func (a *Area) Iterate(fn func(name string, off uint32) error) error {
	return a.iterateSubtree(0, fn)
}

func (a *Area) iterateSubtree(nodeOff uint32, fn func(name string, off uint32) error) error {
	node, err := a.nodeAt(nodeOff)
	if err != nil {
		return err
	}

	if left := atomic.LoadUint32(node.leftPtr()); left != 0 {
		if err := a.iterateSubtree(left, fn); err != nil {
			return err
		}
	}
	if prop := atomic.LoadUint32(node.propPtr()); prop != 0 {
		info, _ := a.propInfoAt(prop)
		if err := fn(info.Name(), prop); err != nil {
			return err
		}
	}
	if children := atomic.LoadUint32(node.childrenPtr()); children != 0 {
		if err := a.iterateSubtree(children, fn); err != nil {
			return err
		}
	}
	if right := atomic.LoadUint32(node.rightPtr()); right != 0 {
		if err := a.iterateSubtree(right, fn); err != nil {
			return err
		}
	}
	return nil
}

// ForeachPropInfoSince visits only entries whose serial counter is >=
// sinceCounter.
func (a *Area) ForeachPropInfoSince(sinceCounter uint32, fn func(name string, off uint32, serial uint32) error) error {
	return a.Iterate(func(name string, off uint32) error {
		info, err := a.propInfoAt(off)
		if err != nil {
			return err
		}
		s := info.Serial()
		if serialCounter(s) < sinceCounter {
			return nil
		}
		return fn(name, off, s)
	})
}
