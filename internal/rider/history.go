/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package rider implements the per-transponder sector history, in-run/
// isolated classifier and split computation.
package rider

import (
	"time"

	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

// entry is one accepted (mpid, tod) pair in a rider's history.
type entry struct {
	mpid int
	tod  tod.Tod
}

// History is one transponder's trailing record: an ordered sequence of
// accepted passings, plus the in-run/run-start/last-gate bookkeeping the
// classifier and split computation read and update.
type History struct {
	refid int64

	entries []entry // strict tod order

	inRun       bool
	runStart    tod.Tod
	hasRunStart bool
	lastGate    tod.Tod
	hasLastGate bool

	lastSeen time.Time // wall time of the most recent accepted entry, for ageing
}

func newHistory(refid int64) *History {
	return &History{refid: refid}
}

// InRun reports whether the rider is currently classified in-run.
func (h *History) InRun() bool { return h.inRun }

// last returns the most recent history entry and whether one exists.
func (h *History) last() (entry, bool) {
	if len(h.entries) == 0 {
		return entry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// append records a newly accepted passing, keeping entries in strict tod
// order.
func (h *History) append(mpid int, t tod.Tod, now time.Time) {
	h.entries = append(h.entries, entry{mpid: mpid, tod: t})
	h.lastSeen = now
}

// ageOut discards entries older than cutoff, retaining at least the last
// full lap plus the configured sector window.
func (h *History) ageOut(cutoff tod.Tod) {
	i := 0
	for i < len(h.entries) && h.entries[i].tod < cutoff {
		i++
	}
	if i > 0 {
		h.entries = h.entries[i:]
	}
}

// findAncestor scans history backward (most recent first) for the nearest
// entry on mpid whose tod difference to t implies a speed within
// [minspeed, maxspeed] over nominalLen metres. Returns the duration and
// true if found.
func (h *History) findAncestor(mpid int, t tod.Tod, nominalLen, minspeed, maxspeed float64, skipLast bool) (tod.Delta, bool) {
	entries := h.entries
	if skipLast && len(entries) > 0 {
		entries = entries[:len(entries)-1]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].mpid != mpid {
			continue
		}
		d := t.Sub(entries[i].tod)
		if d <= 0 {
			continue
		}
		v := track.Speed(nominalLen, d.Seconds())
		if v >= minspeed && v <= maxspeed {
			return d, true
		}
	}
	return 0, false
}
