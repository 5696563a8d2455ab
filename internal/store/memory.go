/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package store

import (
	"sync"

	"github.com/ndf-zz/velotrain/internal/passing"
)

// Memory is the default Store: a contiguous, index-ordered slice.
type Memory struct {
	mu      sync.Mutex
	records []passing.Record
}

// NewMemory builds an empty in-memory replay log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Store.
func (m *Memory) Append(rec passing.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if len(m.records) > SoftCap {
		m.records = m.records[len(m.records)-SoftCap:]
	}
}

// Reset implements Store.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

// Len implements Store.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Query implements Store.
func (m *Memory) Query(f Filter) []passing.Record {
	m.mu.Lock()
	snapshot := append([]passing.Record(nil), m.records...)
	m.mu.Unlock()

	var markerIntervals []interval
	if len(f.Markers) > 0 {
		markerIntervals = markerIntervalsFor(snapshot, f.Markers)
	}

	out := make([]passing.Record, 0, len(snapshot))
	for _, rec := range snapshot {
		if !f.matchesRange(rec) {
			continue
		}
		if len(f.Markers) > 0 && !inAnyInterval(markerIntervals, rec.Index) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

type interval struct {
	lo, hi int64 // inclusive lo, exclusive hi; hi < 0 means unbounded
}

func inAnyInterval(ivs []interval, idx int64) bool {
	for _, iv := range ivs {
		if idx < iv.lo {
			continue
		}
		if iv.hi >= 0 && idx >= iv.hi {
			continue
		}
		return true
	}
	return false
}

// markerIntervalsFor builds the inclusion intervals for a post-marker
// filter: every emission strictly after each occurrence of a
// listed marker text, up to (not including) the next marker record of any
// text.
func markerIntervalsFor(records []passing.Record, names []string) []interval {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	type markerPos struct {
		index int64
		text  string
	}
	var markers []markerPos
	for _, rec := range records {
		if rec.Refid == MarkerRefID {
			markers = append(markers, markerPos{index: rec.Index, text: rec.Text})
		}
	}

	var out []interval
	for i, mk := range markers {
		if !wanted[mk.text] {
			continue
		}
		iv := interval{lo: mk.index + 1, hi: -1}
		if i+1 < len(markers) {
			iv.hi = markers[i+1].index
		}
		out = append(out, iv)
	}
	return out
}
