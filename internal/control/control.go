/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package control implements the marker/reset/replay control plane that
// coexists with the realtime path: marker insertion, reset sequencing,
// replay queries and per-unit resets.
package control

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/alert"
	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/reorder"
	"github.com/ndf-zz/velotrain/internal/rider"
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/store"
	"github.com/ndf-zz/velotrain/internal/tod"
)

var log = logrus.WithField("component", "control")

// Plane owns the daily index counter and wires marker/reset/replay
// operations into the shared reorder buffer, rider tracker, session table
// and replay store. Its own mutex guards only the index counter and the
// resetting flag; the components it drives provide their own locking.
type Plane struct {
	clk      clock.Clock
	authkey  []byte
	buf      *reorder.Buffer
	tracker  *rider.Tracker
	sessions *session.Table
	log      store.Store
	alerts   *alert.Dispatcher

	mu        sync.Mutex
	nextIndex int64
	resetting bool
}

// New builds a Plane. authkey is the shared secret Reset compares against
// verbatim. alerts may be nil if no webhook is configured.
func New(clk clock.Clock, authkey []byte, buf *reorder.Buffer, tracker *rider.Tracker, sessions *session.Table, log_ store.Store, alerts *alert.Dispatcher) *Plane {
	return &Plane{clk: clk, authkey: authkey, buf: buf, tracker: tracker, sessions: sessions, log: log_, alerts: alerts}
}

// NextIndex allocates the next daily emission index, monotone
// nondecreasing from 0. Used by every emission path: the realtime
// pipeline and Marker.
func (p *Plane) NextIndex() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.nextIndex
	p.nextIndex++
	return idx
}

// Resetting reports whether a Reset is currently in progress; the engine
// must not emit passing records while true.
func (p *Plane) Resetting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetting
}

// AuthOK reports whether key matches the configured authkey, byte for
// byte. A mismatch is a silent no-op upstream, so there is no oracle for
// probing the key.
func (p *Plane) AuthOK(key []byte) bool {
	return len(p.authkey) > 0 && bytes.Equal(key, p.authkey)
}

// Reset performs the full daily reset sequence: drains the
// reorder buffer, clears every rider history, resets the daily index,
// and retains decoder sessions but pushes each offline. No message is
// sent to the decoder units: each session resynchronises only when its
// own next triggers arrive. The caller is responsible for emitting the
// "resetting"/"running" status records and for honoring Resetting() while
// this runs. Reset is idempotent: two resets in succession converge on the
// same final state.
func (p *Plane) Reset() {
	p.mu.Lock()
	p.resetting = true
	p.mu.Unlock()

	log.Info("reset: draining reorder buffer")
	p.buf.DrainAll()

	log.Info("reset: clearing rider histories")
	p.tracker.Reset()

	log.Info("reset: pushing sessions offline")
	p.sessions.ResetAll()

	log.Info("reset: clearing replay log")
	p.log.Reset()

	if p.alerts != nil {
		log.Info("reset: draining in-flight alerts")
		p.alerts.Drain()
	}

	p.mu.Lock()
	p.nextIndex = 0
	p.resetting = false
	p.mu.Unlock()

	log.Info("reset complete")
}

// ResetUnit pushes the named channel's session offline and drops its
// pending reorder-buffer entries. It rejects resetting the synchronisation
// master.
func (p *Plane) ResetUnit(channel string) error {
	s, ok := p.sessions.Get(channel)
	if !ok {
		return fmt.Errorf("control: unknown channel %s", channel)
	}
	if s.IsMaster() {
		return fmt.Errorf("control: cannot reset synchronisation master channel %s", channel)
	}
	s.Reset()
	p.buf.Drain(channel)
	log.WithField("channel", channel).Info("unit reset")
	return nil
}

// Now returns the control plane's wall clock, for building synthetic
// records elsewhere.
func (p *Plane) Now() time.Time {
	return p.clk.Now()
}

// Marker builds a synthetic EmissionRecord carrying payload as its Text
// ("marker" when the payload is empty), bypassing the reorder buffer
// entirely. It is appended to the replay log under the reserved
// store.MarkerRefID so a later /request can use it as a replay boundary.
func (p *Plane) Marker(payload string) passing.Record {
	if payload == "" {
		payload = "marker"
	}
	now := p.clk.Tod()
	rec := passing.Record{
		Index: p.NextIndex(),
		MPID:  0,
		Refid: store.MarkerRefID,
		Time:  now.FormatDCM(),
		Text:  payload,
		Tod:   now,
	}
	p.log.Append(rec)
	log.WithField("text", payload).Info("marker inserted")
	return rec
}

// LogPassing appends a fully decorated passing record to the replay log,
// so later /request queries can find it. Markers log themselves as part
// of Marker; the realtime pipeline must call this once the record's
// Index/Time/Moto fields are final. Status snapshots are not logged.
func (p *Plane) LogPassing(rec passing.Record) {
	p.log.Append(rec)
}

// Replay runs f against the replay log. The requester's serial (if any)
// decides the reply topic; this side only evaluates the filter.
func (p *Plane) Replay(f store.Filter) []passing.Record {
	return p.log.Query(f)
}

// ReplayByRange is a convenience wrapper over Replay for the common
// index-range request shape.
func (p *Plane) ReplayByRange(lo, hi *int64, todLo, todHi *tod.Tod, mpids []int, refids []int64, markers []string) []passing.Record {
	return p.Replay(store.Filter{
		IndexLo: lo, IndexHi: hi,
		TodLo: todLo, TodHi: todHi,
		MPIDs: mpids, Refids: refids, Markers: markers,
	})
}

// Rollover restarts the daily emission sequence at local midnight: the
// replay log empties and the index counter returns to zero. Sessions and
// rider histories are untouched.
func (p *Plane) Rollover() {
	p.log.Reset()
	p.mu.Lock()
	p.nextIndex = 0
	p.mu.Unlock()
}
