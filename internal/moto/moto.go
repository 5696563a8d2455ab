/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package moto implements the moto-proximity annotator: it tracks the
// most recent accepted moto passing at each measurement point and
// decorates non-moto passings with how close the pace motorcycle was when
// they crossed the same point.
package moto

import (
	"github.com/ndf-zz/velotrain/internal/tod"
)

// MaxProximity is the largest |ΔT| (seconds) still reported as a moto
// proximity; beyond this the moto field is left null.
const MaxProximity = 5.0

// Annotator tracks, per mpid, the tod of the most recent accepted passing
// whose refid is in the configured moto cohort.
type Annotator struct {
	motoRefids map[int64]bool
	lastAtMP   map[int]tod.Tod
	seen       map[int]bool
}

// New builds an Annotator for the configured moto refid list.
func New(motoRefids []int64) *Annotator {
	set := make(map[int64]bool, len(motoRefids))
	for _, id := range motoRefids {
		set[id] = true
	}
	return &Annotator{
		motoRefids: set,
		lastAtMP:   make(map[int]tod.Tod),
		seen:       make(map[int]bool),
	}
}

// IsMoto reports whether refid is a configured moto transponder.
func (a *Annotator) IsMoto(refid int64) bool {
	return a.motoRefids[refid]
}

// SetRefids replaces the moto cohort, for configuration hot reload. Tracked
// positions of transponders leaving the cohort are kept; they simply stop
// updating.
func (a *Annotator) SetRefids(refids []int64) {
	set := make(map[int64]bool, len(refids))
	for _, id := range refids {
		set[id] = true
	}
	a.motoRefids = set
}

// Annotate returns the formatted moto proximity string for a passing at
// mpid with time t and refid refid, or nil if undefined. It also updates
// the tracked moto position when the passing itself is a moto.
func (a *Annotator) Annotate(mpid int, refid int64, t tod.Tod) *string {
	if a.IsMoto(refid) {
		a.lastAtMP[mpid] = t
		a.seen[mpid] = true
		zero := "0.00"
		return &zero
	}
	if !a.seen[mpid] {
		return nil
	}
	d := t.Sub(a.lastAtMP[mpid])
	if d < 0 {
		d = -d
	}
	if d.Seconds() > MaxProximity {
		return nil
	}
	s := d.FormatDC()
	return &s
}

// Reset clears every tracked moto position.
func (a *Annotator) Reset() {
	a.lastAtMP = make(map[int]tod.Tod)
	a.seen = make(map[int]bool)
}
