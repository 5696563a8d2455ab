/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package rider

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

var log = logrus.WithField("component", "rider")

// Tracker holds every refid's History and applies the in-run
// classification and split rules.
type Tracker struct {
	model     *track.Model
	histories map[int64]*History
}

// NewTracker builds a Tracker against the given track model.
func NewTracker(model *track.Model) *Tracker {
	return &Tracker{
		model:     model,
		histories: make(map[int64]*History),
	}
}

func (t *Tracker) historyFor(refid int64) *History {
	h, ok := t.histories[refid]
	if !ok {
		h = newHistory(refid)
		t.histories[refid] = h
	}
	return h
}

// Reset discards every rider history.
func (t *Tracker) Reset() {
	t.histories = make(map[int64]*History)
}

// ageWindowSeconds returns the age in seconds after which history entries
// are discarded: laplen/minspeed*2, with minspeed converted from km/h to m/s.
func (t *Tracker) ageWindowSeconds() float64 {
	minspeedMS := t.model.MinSpeed / 3.6
	return (t.model.LapLen / minspeedMS) * 2
}

// gateSectorLength returns the distance between the gate and measurement
// point mp. The gate is taken as colocated with the finish line, offset 0.
func gateSectorLength(model *track.Model, mp *track.MeasurementPoint, gateToMP bool) float64 {
	if gateToMP {
		return mp.OffsetM
	}
	return model.LapLen - mp.OffsetM
}

// Process classifies a released corrected passing against refid's history,
// updates the history and returns the decorated record (without Index,
// Moto or a JSON-ready Time string, which the engine fills in after this
// stage). now is the wall-clock arrival time, used for history ageing.
func (t *Tracker) Process(cp passing.Corrected, now time.Time) passing.Record {
	h := t.historyFor(cp.Refid)
	h.ageOut(cp.Tod.Add(-tod.DeltaFromSeconds(t.ageWindowSeconds())))

	rec := passing.Record{
		MPID:       cp.MPID,
		Refid:      cp.Refid,
		Env:        cp.Env,
		Tod:        cp.Tod,
		Text:       cp.Info,
		OutOfOrder: cp.OutOfOrder,
	}

	isGate := cp.MPID == track.GateMPID

	prev, hasPrev := h.last()
	backward := hasPrev && cp.Tod < prev.tod

	if cp.OutOfOrder && backward {
		// Inserting this event into history would reorder it behind an
		// already-accepted, already-emitted entry: never mutate history
		// in that case, always isolated.
		h.inRun = false
		log.WithFields(logrus.Fields{"refid": cp.Refid, "mpid": cp.MPID}).
			Debug("out-of-order event would rewrite history, emitting isolated")
		t.applyGateSideEffect(h, isGate, cp.Tod)
		t.fillElap(h, &rec)
		return rec
	}

	switch {
	case !hasPrev:
		// Fresh entry: no prior passing to form a sector against.
		h.inRun = false
	default:
		d := cp.Tod.Sub(prev.tod)
		maxAge := tod.DeltaFromSeconds(t.ageWindowSeconds())
		if d <= 0 || d > maxAge {
			h.inRun = false
			break
		}
		lo, hi := t.model.MinSpeed, t.model.MaxSpeed
		var length float64
		orderingOK := true
		switch {
		case isGate:
			lo, hi = t.model.MinGate, t.model.MaxGate
			if prevMP, ok := t.model.ByMPID(prev.mpid); ok {
				length = gateSectorLength(t.model, prevMP, false)
			}
		case prev.mpid == track.GateMPID:
			lo, hi = t.model.MinGate, t.model.MaxGate
			if curMP, ok := t.model.ByMPID(cp.MPID); ok {
				length = gateSectorLength(t.model, curMP, true)
			}
		default:
			prevMP, ok1 := t.model.ByMPID(prev.mpid)
			curMP, ok2 := t.model.ByMPID(cp.MPID)
			if !ok1 || !ok2 {
				break
			}
			if curMP.MPID == prevMP.MPID {
				// Same channel: a full lap has elapsed, not a
				// zero-length sector.
				length = t.model.LapLen
				orderingOK = true
			} else {
				length = t.model.Sector(prevMP, curMP)
				orderingOK = t.model.Next(prevMP).MPID == curMP.MPID
			}
		}
		v := track.Speed(length, d.Seconds())
		if orderingOK && v >= lo && v <= hi {
			if !h.inRun && !h.hasRunStart {
				h.runStart = prev.tod
				h.hasRunStart = true
			}
			h.inRun = true
		} else {
			h.inRun = false
		}
	}

	h.append(cp.MPID, cp.Tod, now)

	t.applyGateSideEffect(h, isGate, cp.Tod)

	if h.inRun && !isGate {
		t.fillSplits(h, cp, &rec)
	}
	t.fillElap(h, &rec)

	return rec
}

// applyGateSideEffect resets run_start_tod and last_gate_tod whenever the
// passing is on the gate channel, unconditionally.
func (t *Tracker) applyGateSideEffect(h *History, isGate bool, at tod.Tod) {
	if !isGate {
		return
	}
	h.runStart = at
	h.hasRunStart = true
	h.lastGate = at
	h.hasLastGate = true
}

// fillElap sets rec.Elap to T - max(last_gate_tod, run_start_tod) whenever
// either reference is defined: elapsed time tracks the
// current run or gate start independently of whether this particular
// passing itself validated as an in-run sector.
func (t *Tracker) fillElap(h *History, rec *passing.Record) {
	if !h.hasRunStart && !h.hasLastGate {
		return
	}
	ref := h.runStart
	if h.hasLastGate && (!h.hasRunStart || h.lastGate > h.runStart) {
		ref = h.lastGate
	}
	d := rec.Tod.Sub(ref)
	if d < 0 {
		return
	}
	s := d.FormatDC()
	rec.Elap = &s
}

// fillSplits computes every split whose ancestor channel is configured for
// the current measurement point.
func (t *Tracker) fillSplits(h *History, cp passing.Corrected, rec *passing.Record) {
	mp, ok := t.model.ByMPID(cp.MPID)
	if !ok {
		return
	}

	for _, kind := range track.AllSplits {
		if kind == track.SplitLap {
			d, found := h.findAncestor(cp.MPID, cp.Tod, t.model.LapLen, t.model.MinSpeed, t.model.MaxSpeed, true)
			if found {
				s := d.FormatDC()
				setSplit(rec, kind, &s)
			}
			continue
		}
		ancChannel := mp.Ancestor[kind]
		if ancChannel == "" {
			continue
		}
		ancMP, ok := t.model.ByChannel(ancChannel)
		if !ok {
			continue
		}
		nominal := t.model.NominalLength(kind)
		d, found := h.findAncestor(ancMP.MPID, cp.Tod, nominal, t.model.MinSpeed, t.model.MaxSpeed, false)
		if found {
			s := d.FormatDC()
			setSplit(rec, kind, &s)
		}
	}
}

func setSplit(rec *passing.Record, kind track.SplitKind, v *string) {
	switch kind {
	case track.SplitLap:
		rec.Splits.Lap = v
	case track.SplitHalf:
		rec.Splits.Half = v
	case track.SplitQtr:
		rec.Splits.Qtr = v
	case track.Split200:
		rec.Splits.P200 = v
	case track.Split100:
		rec.Splits.P100 = v
	case track.Split50:
		rec.Splits.P50 = v
	}
}
