/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package store implements the replay log: a capped,
// append-only, time-ordered record of the current day's emissions, queried
// by linear scan under the filters /request accepts.
package store

import (
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

// SoftCap bounds the replay log: one day's worth of records.
const SoftCap = 200000

// MarkerRefID is the reserved Refid value a synthetic marker EmissionRecord
// carries, distinguishing it from real (non-negative) transponder ids and
// the configurable trigger refid.
const MarkerRefID = passing.MarkerRefid

// Filter selects a subset of the replay log. A nil/empty field imposes no
// constraint on that dimension.
type Filter struct {
	IndexLo, IndexHi *int64
	TodLo, TodHi     *tod.Tod
	MPIDs            []int
	Refids           []int64
	Markers          []string
}

func (f Filter) matchesRange(rec passing.Record) bool {
	if f.IndexLo != nil && rec.Index < *f.IndexLo {
		return false
	}
	if f.IndexHi != nil && rec.Index > *f.IndexHi {
		return false
	}
	if f.TodLo != nil && rec.Tod < *f.TodLo {
		return false
	}
	if f.TodHi != nil && rec.Tod > *f.TodHi {
		return false
	}
	if len(f.MPIDs) > 0 && !containsInt(f.MPIDs, rec.MPID) {
		return false
	}
	if len(f.Refids) > 0 && !containsInt64(f.Refids, rec.Refid) {
		return false
	}
	return true
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt64(xs []int64, v int64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// Store is the append-only replay log.
type Store interface {
	// Append records rec, evicting the oldest record if the soft cap is
	// exceeded.
	Append(rec passing.Record)
	// Query returns every record matching f, in index order.
	Query(f Filter) []passing.Record
	// Reset clears the log.
	Reset()
	// Len returns the number of records currently held.
	Len() int
}
