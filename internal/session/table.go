/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package session

import (
	"sort"
	"sync"
	"time"

	"github.com/ndf-zz/velotrain/internal/tod"
)

// Table is the mutable side of the measurement-point set: one Session per
// configured channel.
type Table struct {
	mu      sync.RWMutex
	byChan  map[string]*Session
	master  string
	lastBoundary tod.Tod
}

// NewTable builds a Table with one offline Session per channel in
// channels. master, if non-empty, names the synchronisation master
// channel.
func NewTable(channels []string, master string) *Table {
	t := &Table{
		byChan: make(map[string]*Session, len(channels)),
		master: master,
	}
	for _, ch := range channels {
		t.byChan[ch] = New(ch, ch == master)
	}
	return t
}

// Get returns the session for channel ch, if configured.
func (t *Table) Get(ch string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byChan[ch]
	return s, ok
}

// All returns every session, ordered by channel for deterministic status
// output.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byChan))
	for _, s := range t.byChan {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].channel < out[j].channel })
	return out
}

// MasterChannel returns the configured synchronisation master channel, or
// "" if none is configured.
func (t *Table) MasterChannel() string {
	return t.master
}

// NoteMinuteBoundary records the most recently observed top-of-minute host
// timestamp, snapped. When a sync master is configured, the boundary used
// for minute-snapping elsewhere is
// only advanced by the master's own trigger; every other channel still
// computes its own unit-offset independently from its own triggers.
func (t *Table) NoteMinuteBoundary(ch string, boundary tod.Tod) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.master != "" && ch != t.master {
		return
	}
	t.lastBoundary = boundary
}

// MinuteBoundary returns the most recently observed top-of-minute boundary.
func (t *Table) MinuteBoundary() tod.Tod {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastBoundary
}

// Housekeep runs liveness demotion across every session. If the
// synchronisation master itself has gone stale, every other online session
// falls back to syncing until the master recovers.
func (t *Table) Housekeep(now time.Time) {
	for _, s := range t.All() {
		s.Housekeep(now)
	}
	if t.master == "" {
		return
	}
	if m, ok := t.Get(t.master); ok && m.State() == Stale {
		for _, s := range t.All() {
			if !s.IsMaster() {
				s.Demote()
			}
		}
	}
}

// SetPassLevel applies the configured interference threshold to every
// session.
func (t *Table) SetPassLevel(v float64) {
	for _, s := range t.All() {
		s.SetPassLevel(v)
	}
}

// RollNoise folds the current minute's spurious counts into every
// session's EMA. Called once per top-of-minute tick, alongside the status
// snapshot.
func (t *Table) RollNoise() {
	for _, s := range t.All() {
		s.RollNoise()
	}
}

// ResetAll pushes every session to Offline, as performed by a daily Reset
// daily reset. It does not touch the master designation.
func (t *Table) ResetAll() {
	for _, s := range t.All() {
		s.Reset()
	}
	t.mu.Lock()
	t.lastBoundary = 0
	t.mu.Unlock()
}

// SnapToMinute rounds w to the nearest whole minute, expressed as a Tod.
func SnapToMinute(w time.Time) tod.Tod {
	w = w.Local()
	sec := w.Second()
	if sec >= 30 {
		w = w.Add(time.Duration(60-sec) * time.Second)
	} else {
		w = w.Add(-time.Duration(sec) * time.Second)
	}
	w = w.Truncate(time.Minute)
	return tod.FromTime(w)
}
