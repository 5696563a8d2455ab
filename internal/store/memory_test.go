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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

func rec(idx int64, mpid int, refid int64, t tod.Tod, text string) passing.Record {
	return passing.Record{Index: idx, MPID: mpid, Refid: refid, Tod: t, Text: text}
}

func TestMemoryAppendAndLen(t *testing.T) {
	m := NewMemory()
	m.Append(rec(1, 1, 100000, tod.FromSeconds(1), ""))
	m.Append(rec(2, 2, 100001, tod.FromSeconds(2), ""))
	assert.Equal(t, 2, m.Len())
}

func TestMemoryAppendEvictsBeyondSoftCap(t *testing.T) {
	m := NewMemory()
	for i := int64(0); i < SoftCap+10; i++ {
		m.Append(rec(i, 1, 100000, tod.FromSeconds(float64(i)), ""))
	}
	require.Equal(t, SoftCap, m.Len())

	out := m.Query(Filter{})
	// the oldest 10 records (index 0..9) were evicted.
	assert.Equal(t, int64(10), out[0].Index)
}

func TestMemoryQueryFiltersByIndexRange(t *testing.T) {
	m := NewMemory()
	for i := int64(0); i < 5; i++ {
		m.Append(rec(i, 1, 100000, tod.FromSeconds(float64(i)), ""))
	}
	lo, hi := int64(1), int64(3)
	out := m.Query(Filter{IndexLo: &lo, IndexHi: &hi})
	require.Len(t, out, 3)
	assert.Equal(t, int64(1), out[0].Index)
	assert.Equal(t, int64(3), out[2].Index)
}

func TestMemoryQueryFiltersByMPIDAndRefid(t *testing.T) {
	m := NewMemory()
	m.Append(rec(0, 1, 100000, tod.FromSeconds(0), ""))
	m.Append(rec(1, 2, 100001, tod.FromSeconds(1), ""))
	m.Append(rec(2, 1, 100001, tod.FromSeconds(2), ""))

	out := m.Query(Filter{MPIDs: []int{1}})
	require.Len(t, out, 2)

	out = m.Query(Filter{Refids: []int64{100001}})
	require.Len(t, out, 2)
}

func TestMemoryQueryMarkerIntervalIncludesOnlyAfterMarker(t *testing.T) {
	m := NewMemory()
	m.Append(rec(0, 1, 100000, tod.FromSeconds(0), "")) // before marker, excluded
	markerRec := rec(1, -1, MarkerRefID, tod.FromSeconds(1), "lap1")
	m.Append(markerRec)
	m.Append(rec(2, 1, 100000, tod.FromSeconds(2), "")) // after marker, included
	m.Append(rec(3, 1, 100000, tod.FromSeconds(3), "")) // also after, included

	out := m.Query(Filter{Markers: []string{"lap1"}})
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Index)
	assert.Equal(t, int64(3), out[1].Index)
}

func TestMemoryQueryMarkerIntervalStopsAtNextMarker(t *testing.T) {
	m := NewMemory()
	m.Append(rec(0, 1, MarkerRefID, tod.FromSeconds(0), "lap1"))
	m.Append(rec(1, 1, 100000, tod.FromSeconds(1), "")) // between lap1 and lap2
	m.Append(rec(2, 1, MarkerRefID, tod.FromSeconds(2), "lap2"))
	m.Append(rec(3, 1, 100000, tod.FromSeconds(3), "")) // after lap2

	out := m.Query(Filter{Markers: []string{"lap1"}})
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), out[0].Index)
}

func TestMemoryReset(t *testing.T) {
	m := NewMemory()
	m.Append(rec(0, 1, 100000, tod.FromSeconds(0), ""))
	m.Reset()
	assert.Equal(t, 0, m.Len())
}
