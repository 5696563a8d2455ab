/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package session tracks the live, mutable per-channel state that the
// static track.Model deliberately keeps out of its own fields: each
// decoder's clock-offset estimate, liveness and noise score.
package session

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/tod"
)

// State is a decoder session's clock-synchronisation state.
type State int

// The four decoder session states, in transition order.
const (
	Offline State = iota
	Syncing
	Online
	Stale
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Syncing:
		return "syncing"
	case Online:
		return "online"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

const (
	// agreeTolerance is the maximum disagreement between consecutive
	// trigger offset estimates allowed before the session is considered
	// synchronised (or before an online session is judged desynced).
	agreeTolerance = tod.Delta(500) // 50ms in ticks (10000 ticks/s)
	// agreeCount is how many agreeing samples promote a syncing session.
	agreeCount = 2
	// staleAfter is the liveness timeout before an online session is
	// demoted to stale.
	staleAfter = 180 * time.Second
	// noiseAlarm is the noise score at or above which a session is
	// flagged as experiencing interference.
	noiseAlarm = 40.0
	// noiseAlpha is the EMA smoothing factor for the per-minute noise
	// score.
	noiseAlpha = 0.5
)

// Session is the live state of one decoder channel.
type Session struct {
	mu sync.Mutex

	channel string
	master  bool

	state   State
	offset  tod.Delta
	recent  []tod.Delta // pending agreement samples while syncing

	noise        float64
	passLevel    float64 // noise score at which interference is flagged
	spuriousThis int     // spurious reads counted in the current minute

	lastSeen time.Time

	lowBattery map[int64]bool

	log *logrus.Entry
}

// New builds an offline Session for channel ch. master marks the
// synchronisation master channel: it cannot be unit-reset and, when
// configured, its trigger alone advances the shared top-of-minute
// wall-clock boundary. Each non-master channel still fits its own offset
// from its own triggers, since every unit needs independent correction
// regardless of which one anchors the shared clock view.
func New(ch string, master bool) *Session {
	return &Session{
		channel:    ch,
		master:     master,
		state:      Offline,
		passLevel:  noiseAlarm,
		lowBattery: make(map[int64]bool),
		log:        logrus.WithField("component", "session").WithField("channel", ch),
	}
}

// Channel returns the session's channel id.
func (s *Session) Channel() string { return s.channel }

// IsMaster reports whether this is the synchronisation master channel.
func (s *Session) IsMaster() bool { return s.master }

// State returns the current synchronisation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offset returns the session's current clock-offset estimate.
func (s *Session) Offset() tod.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Noise returns the current interference score, 0..100.
func (s *Session) Noise() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noise
}

// Correct applies the session's current offset estimate to a raw unit
// timestamp, producing a corrected Tod in the host clock domain. The offset
// is kept as unit clock minus host clock, so correction is a subtraction.
func (s *Session) Correct(raw tod.Tod) tod.Tod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return raw.Add(-s.offset)
}

// HandleTrigger processes a trigger (refid == trig) passing: hostRecvSnapped
// is the host-stamped arrival time snapped to the nearest whole minute;
// unitTod is the raw unit timestamp carried by the trigger. now is used for
// liveness bookkeeping.
func (s *Session) HandleTrigger(hostRecvSnapped, unitTod tod.Tod, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := unitTod.Sub(hostRecvSnapped)
	s.lastSeen = now

	switch s.state {
	case Offline, Stale:
		s.state = Syncing
		s.recent = []tod.Delta{candidate}
		s.log.WithField("state", s.state).Info("session resynchronising")
	case Syncing:
		s.recent = append(s.recent, candidate)
		if len(s.recent) > agreeCount {
			s.recent = s.recent[len(s.recent)-agreeCount:]
		}
		if s.agree() {
			s.offset = candidate
			s.state = Online
			s.log.WithField("offset", s.offset).Info("session online")
		}
	case Online:
		if absDelta(candidate-s.offset) > agreeTolerance {
			s.log.WithFields(logrus.Fields{
				"estimate": candidate,
				"current":  s.offset,
			}).Warn("session desynchronised")
			s.state = Syncing
			s.recent = []tod.Delta{candidate}
			return
		}
		s.offset = candidate
	}
}

// agree reports whether every sample held in recent agrees with every other
// within agreeTolerance, and there are at least agreeCount of them.
func (s *Session) agree() bool {
	if len(s.recent) < agreeCount {
		return false
	}
	for i := 1; i < len(s.recent); i++ {
		if absDelta(s.recent[i]-s.recent[0]) > agreeTolerance {
			return false
		}
	}
	return true
}

// Seen marks the session alive at now without touching its offset, for
// non-trigger passings on the channel.
func (s *Session) Seen(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

// Demote pushes an Online session back to Syncing, discarding its pending
// agreement samples. Used when the synchronisation master drops out and
// every other unit's correction can no longer be trusted against the
// shared clock view.
func (s *Session) Demote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Online {
		return
	}
	s.state = Syncing
	s.recent = nil
	s.log.Warn("session demoted to syncing")
}

// Housekeep demotes an Online session to Stale once it has been silent for
// longer than staleAfter. Called periodically by the event loop.
func (s *Session) Housekeep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Online && !s.lastSeen.IsZero() && now.Sub(s.lastSeen) > staleAfter {
		s.state = Stale
		s.log.Warn("session stale")
	}
}

// RecordSpurious counts one spurious read (a refid outside the configured
// cohort) toward the current minute's noise sample.
func (s *Session) RecordSpurious() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spuriousThis++
}

// RollNoise folds the current minute's spurious-read count into the noise
// EMA and resets the counter. Called once per top-of-minute tick.
func (s *Session) RollNoise() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := float64(s.spuriousThis)
	if sample > 100 {
		sample = 100
	}
	s.noise = noiseAlpha*sample + (1-noiseAlpha)*s.noise
	if s.noise > 100 {
		s.noise = 100
	}
	if s.noise < 0 {
		s.noise = 0
	}
	s.spuriousThis = 0
}

// Interfered reports whether the noise score has crossed the alarm
// threshold.
func (s *Session) Interfered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noise >= s.passLevel
}

// SetPassLevel changes the interference threshold.
func (s *Session) SetPassLevel(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passLevel = v
}

// MarkLowBattery records refid as reporting low battery on this channel.
func (s *Session) MarkLowBattery(refid int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowBattery[refid] = true
}

// LowBattery returns the set of refids currently flagged low battery.
func (s *Session) LowBattery() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.lowBattery))
	for id := range s.lowBattery {
		out = append(out, id)
	}
	return out
}

// Reset pushes the session back to Offline and clears its low-battery set,
// as performed by a unit-reset command or a daily Reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Offline
	s.recent = nil
	s.offset = 0
	s.noise = 0
	s.spuriousThis = 0
	s.lowBattery = make(map[int64]bool)
	s.log.Info("session reset to offline")
}

func absDelta(d tod.Delta) tod.Delta {
	if d < 0 {
		return -d
	}
	return d
}
