/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package status assembles the top-of-minute status snapshot published to
// the status sink.
package status

import (
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/tod"
)

// Info is the status record's lifecycle phase.
type Info string

// The four status phases of the daemon lifecycle.
const (
	Running   Info = "running"
	Resetting Info = "resetting"
	Offline   Info = "offline"
	Error     Info = "error"
)

// SessionStatus is one decoder session's contribution to a snapshot.
type SessionStatus struct {
	MPID   int     `json:"mpid"`
	Name   string  `json:"name"`
	State  string  `json:"state"`
	Noise  float64 `json:"noise"`
	Offset float64 `json:"offset"`
}

// Snapshot is the published /status payload.
type Snapshot struct {
	Info         Info            `json:"info"`
	Tod          string          `json:"tod"`
	UTCOffsetSec float64         `json:"utc_offset_s"`
	DailyCount   int64           `json:"daily_count"`
	LastGateTod  *string         `json:"last_gate_tod"`
	LowBattery   []int64         `json:"low_battery"`
	Sessions     []SessionStatus `json:"sessions"`
}

// Source supplies the values a snapshot needs, decoupling this package from
// the event loop's concrete types. NameFor may be nil, in which case the
// channel id doubles as the display name.
type Source struct {
	Sessions     *session.Table
	DailyCount   func() int64
	LastGateTod  func() (tod.Tod, bool)
	UTCOffsetSec func() float64
	MPIDFor      func(channel string) int
	NameFor      func(channel string) string
}

// Build assembles a Snapshot in the given info phase.
func Build(src Source, info Info, now tod.Tod) Snapshot {
	snap := Snapshot{
		Info:         info,
		Tod:          now.FormatDCM(),
		UTCOffsetSec: src.UTCOffsetSec(),
		DailyCount:   src.DailyCount(),
	}

	if t, ok := src.LastGateTod(); ok {
		s := t.FormatDCM()
		snap.LastGateTod = &s
	}

	lowSet := make(map[int64]bool)
	for _, s := range src.Sessions.All() {
		for _, id := range s.LowBattery() {
			lowSet[id] = true
		}
		name := s.Channel()
		if src.NameFor != nil {
			if n := src.NameFor(s.Channel()); n != "" {
				name = n
			}
		}
		snap.Sessions = append(snap.Sessions, SessionStatus{
			MPID:   src.MPIDFor(s.Channel()),
			Name:   name,
			State:  s.State().String(),
			Noise:  s.Noise(),
			Offset: s.Offset().Seconds(),
		})
	}
	for id := range lowSet {
		snap.LowBattery = append(snap.LowBattery, id)
	}
	return snap
}
