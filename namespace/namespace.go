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

// Package namespace aggregates many property-area files, routed through a
// context index, into one logical read namespace (C3).
package namespace

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/esote/minmaxheap"
	"github.com/pkg/errors"

	"github.com/hiking90/sysprops/contexts"
	"github.com/hiking90/sysprops/errkind"
	"github.com/hiking90/sysprops/proparea"
)

const defaultRouteCacheSize = 1024

// Namespace holds every loaded area, keyed by context, plus the router used
// to resolve a property name to one of them.
type Namespace struct {
	idx       *contexts.Index
	areas     map[string]*proparea.Area
	loadOrder []string // deterministic iteration order: area load order

	routeCache *lru.Cache[string, string]

	// serialArea, if present, is the dedicated properties_serial area the
	// writer service bumps on every commit to any area. When set, WaitAny
	// targets this single futex word instead of fanning out to every area.
	serialArea *proparea.Area
}

// New builds a Namespace over the given context index and already-opened
// areas. loadOrder fixes Iterate's deterministic order; it must list every
// key of areas exactly once.
func New(idx *contexts.Index, areas map[string]*proparea.Area, loadOrder []string, serialArea *proparea.Area) (*Namespace, error) {
	cache, err := lru.New[string, string](defaultRouteCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create route cache")
	}
	return &Namespace{
		idx:        idx,
		areas:      areas,
		loadOrder:  loadOrder,
		routeCache: cache,
		serialArea: serialArea,
	}, nil
}

// route resolves name to its backing Area, consulting the LRU cache first
// since property_contexts rules never change at runtime.
func (n *Namespace) route(name string) (*proparea.Area, string, error) {
	if ctx, ok := n.routeCache.Get(name); ok {
		area, ok := n.areas[ctx]
		if !ok {
			return nil, "", errkind.New(errkind.NoContext, "cached context has no loaded area: "+ctx)
		}
		return area, ctx, nil
	}

	ctx, ok := n.idx.Route(name)
	if !ok {
		return nil, "", errkind.New(errkind.NoContext, "no context rule matches "+name)
	}
	area, ok := n.areas[ctx]
	if !ok {
		return nil, "", errkind.New(errkind.NoContext, "context has no loaded area: "+ctx)
	}
	n.routeCache.Add(name, ctx)
	return area, ctx, nil
}

// Get routes name to its area and reads the current value.
func (n *Namespace) Get(name string) (value []byte, serial uint32, ok bool, err error) {
	area, _, err := n.route(name)
	if err != nil {
		return nil, 0, false, err
	}
	off, found, err := area.Find(name)
	if err != nil {
		return nil, 0, false, err
	}
	if !found {
		return nil, 0, false, nil
	}
	value, serial, err = area.Read(off, 128)
	if err != nil {
		return nil, 0, false, err
	}
	return value, serial, true, nil
}

// Find exposes the routed area and the raw prop_info offset, for callers
// that need to Wait on that specific property afterward.
func (n *Namespace) Find(name string) (area *proparea.Area, off uint32, ok bool, err error) {
	area, _, err = n.route(name)
	if err != nil {
		return nil, 0, false, err
	}
	off, ok, err = area.Find(name)
	return area, off, ok, err
}

// Iterate visits every property in every area, in area load order and
// pre-order trie order within each area.
func (n *Namespace) Iterate(fn func(context, name string, value []byte) error) error {
	for _, ctx := range n.loadOrder {
		area := n.areas[ctx]
		err := area.Iterate(func(name string, off uint32) error {
			value, _, err := area.Read(off, 128)
			if err != nil {
				return err
			}
			return fn(ctx, name, value)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until the property at (area, off) changes from lastSerial or
// the timeout elapses.
func Wait(area *proparea.Area, off uint32, lastSerial uint32, timeout time.Duration) (serial uint32, changed bool, err error) {
	var deadline int64
	if timeout > 0 {
		deadline = time.Now().Add(timeout).UnixNano()
	}
	return area.WaitPropSerial(off, lastSerial, deadline)
}

type areaSerial struct {
	context string
	serial  uint32
}

type areaSerialHeap []areaSerial

func (h areaSerialHeap) Len() int            { return len(h) }
func (h areaSerialHeap) Less(i, j int) bool  { return h[i].serial < h[j].serial }
func (h areaSerialHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *areaSerialHeap) Push(x any)         { *h = append(*h, x.(areaSerial)) }
func (h *areaSerialHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// currentMax snapshots every area's serial into a max-heap and returns the
// highest, without assuming any particular area is "the" aggregate one.
func (n *Namespace) currentMax() areaSerial {
	h := make(areaSerialHeap, 0, len(n.loadOrder))
	for _, ctx := range n.loadOrder {
		minmaxheap.Push(&h, areaSerial{context: ctx, serial: n.areas[ctx].Serial()})
	}
	return minmaxheap.PopMax(&h).(areaSerial)
}

// pollInterval is how often the no-dedicated-serial-area fallback rescans
// every area while waiting for any of them to change.
const pollInterval = 20 * time.Millisecond

// WaitAny blocks until any area's serial differs from what it was when
// this call began, or timeout elapses. When a dedicated properties_serial
// area was supplied to New, this parks on that single word; otherwise it
// polls every area's serial once per tick and, when one has changed,
// reports the highest current area serial, picked with a max-heap.
func (n *Namespace) WaitAny(timeout time.Duration) (context string, serial uint32, changed bool, err error) {
	var deadline int64
	if timeout > 0 {
		deadline = time.Now().Add(timeout).UnixNano()
	}

	if n.serialArea != nil {
		last := n.serialArea.Serial()
		v, changed := n.serialArea.WaitSerial(last, deadline)
		return "", v, changed, nil
	}

	start := n.currentMax()
	last := make(map[string]uint32, len(n.loadOrder))
	for _, ctx := range n.loadOrder {
		last[ctx] = n.areas[ctx].Serial()
	}
	for {
		for _, ctx := range n.loadOrder {
			if n.areas[ctx].Serial() != last[ctx] {
				cur := n.currentMax()
				return cur.context, cur.serial, true, nil
			}
		}
		if deadline > 0 && time.Now().UnixNano() >= deadline {
			return "", start.serial, false, nil
		}
		time.Sleep(pollInterval)
	}
}
