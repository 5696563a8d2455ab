/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package track holds the static, read-only track geometry: measurement
// point positions, sector lengths and the split ancestor graph. It is built
// once at startup and never mutated; live per-channel state lives in
// package session instead.
package track

import "fmt"

// SplitKind names one of the fixed split distances tracked per measurement
// point.
type SplitKind int

// The split kinds, in the order emitted records present them.
const (
	SplitLap SplitKind = iota
	SplitHalf
	SplitQtr
	Split200
	Split100
	Split50
)

var splitNames = map[SplitKind]string{
	SplitLap:  "lap",
	SplitHalf: "half",
	SplitQtr:  "qtr",
	Split200:  "200",
	Split100:  "100",
	Split50:   "50",
}

// String returns the JSON field name of k.
func (k SplitKind) String() string {
	return splitNames[k]
}

// AllSplits lists every split kind, in the order emitted records present
// them.
var AllSplits = []SplitKind{SplitLap, SplitHalf, SplitQtr, Split200, Split100, Split50}

// MeasurementPoint is one fixed sensor location around the track.
type MeasurementPoint struct {
	Channel  string // "C1".."C9"
	MPID     int    // 1..9, assigned by position in mpseq
	Name     string
	OffsetM  float64            // distance from the finish line, increasing in travel direction
	Ancestor map[SplitKind]string // split kind -> ancestor channel, if configured
}

// GateMPID is the synthetic measurement point id used for gate and marker
// events.
const GateMPID = 0

// Config is the per-channel configuration accepted by New.
type Config struct {
	Name    string
	OffsetM float64
	Half    string
	Qtr     string
	P200    string
	P100    string
	P50     string
}

// Model is the immutable track geometry, built once at startup.
type Model struct {
	LapLen float64
	MinSpeed,
	MaxSpeed,
	MinGate,
	MaxGate float64

	mpseq   []string                // channel order around the loop
	byChan  map[string]*MeasurementPoint
	byMPID  map[int]*MeasurementPoint
	nominal map[SplitKind]float64
}

// New validates the track topology and precomputes per-point ancestor
// distances. laplen is the track length in metres; mpseq lists every
// configured channel in travel-direction order; cfg supplies the per-channel
// attributes.
func New(laplen float64, mpseq []string, cfg map[string]Config, minspeed, maxspeed, mingate, maxgate float64) (*Model, error) {
	if laplen <= 0 {
		return nil, fmt.Errorf("track: laplen must be positive, got %v", laplen)
	}
	if len(mpseq) == 0 {
		return nil, fmt.Errorf("track: mpseq must not be empty")
	}

	seen := make(map[string]bool, len(mpseq))
	for _, ch := range mpseq {
		if seen[ch] {
			return nil, fmt.Errorf("track: channel %s duplicated in mpseq", ch)
		}
		seen[ch] = true
		if _, ok := cfg[ch]; !ok {
			return nil, fmt.Errorf("track: channel %s in mpseq has no configuration", ch)
		}
	}
	for ch := range cfg {
		if !seen[ch] {
			return nil, fmt.Errorf("track: channel %s configured but missing from mpseq", ch)
		}
	}

	m := &Model{
		LapLen:   laplen,
		MinSpeed: minspeed,
		MaxSpeed: maxspeed,
		MinGate:  mingate,
		MaxGate:  maxgate,
		mpseq:    append([]string(nil), mpseq...),
		byChan:   make(map[string]*MeasurementPoint, len(mpseq)),
		byMPID:   make(map[int]*MeasurementPoint, len(mpseq)),
		nominal: map[SplitKind]float64{
			SplitLap:  laplen,
			SplitHalf: laplen / 2,
			SplitQtr:  laplen / 4,
			Split200:  200,
			Split100:  100,
			Split50:   50,
		},
	}

	for i, ch := range mpseq {
		c := cfg[ch]
		if c.OffsetM < 0 || c.OffsetM >= laplen {
			return nil, fmt.Errorf("track: channel %s offset %v out of range [0,%v)", ch, c.OffsetM, laplen)
		}
		mp := &MeasurementPoint{
			Channel: ch,
			MPID:    i + 1,
			Name:    c.Name,
			OffsetM: c.OffsetM,
			Ancestor: map[SplitKind]string{
				SplitHalf: c.Half,
				SplitQtr:  c.Qtr,
				Split200:  c.P200,
				Split100:  c.P100,
				Split50:   c.P50,
			},
		}
		m.byChan[ch] = mp
		m.byMPID[mp.MPID] = mp
	}

	for _, mp := range m.byChan {
		for kind, anc := range mp.Ancestor {
			if anc == "" {
				continue
			}
			if anc == mp.Channel {
				return nil, fmt.Errorf("track: channel %s names itself as %s ancestor", mp.Channel, kind)
			}
			ancMP, ok := m.byChan[anc]
			if !ok {
				return nil, fmt.Errorf("track: channel %s %s ancestor %s is not configured", mp.Channel, kind, anc)
			}
			want := m.nominal[kind]
			got := mod(mp.OffsetM-ancMP.OffsetM, laplen)
			if !almostEqual(got, want) {
				return nil, fmt.Errorf("track: channel %s %s ancestor %s distance %v != nominal %v",
					mp.Channel, kind, anc, got, want)
			}
		}
	}

	var sum float64
	n := len(mpseq)
	for i := 0; i < n; i++ {
		from := m.byMPID[i+1]
		to := m.byMPID[(i+1)%n+1]
		if from == to {
			// A single point's only sector runs a full lap back to itself.
			sum += laplen
			continue
		}
		sum += mod(to.OffsetM-from.OffsetM, laplen)
	}
	if !almostEqual(sum, laplen) {
		return nil, fmt.Errorf("track: summed sector lengths %v != laplen %v", sum, laplen)
	}

	return m, nil
}

// MPSeq returns the configured channel order.
func (m *Model) MPSeq() []string {
	return append([]string(nil), m.mpseq...)
}

// ByChannel looks up a measurement point by channel id.
func (m *Model) ByChannel(ch string) (*MeasurementPoint, bool) {
	mp, ok := m.byChan[ch]
	return mp, ok
}

// ByMPID looks up a measurement point by its numeric id.
func (m *Model) ByMPID(id int) (*MeasurementPoint, bool) {
	mp, ok := m.byMPID[id]
	return mp, ok
}

// Next returns the measurement point expected to follow mp going forward
// around the loop.
func (m *Model) Next(mp *MeasurementPoint) *MeasurementPoint {
	idx := mp.MPID % len(m.mpseq)
	return m.byMPID[idx+1]
}

// Sector returns the forward-travel distance in metres from mp "from" to mp
// "to".
func (m *Model) Sector(from, to *MeasurementPoint) float64 {
	return mod(to.OffsetM-from.OffsetM, m.LapLen)
}

// NominalLength returns the nominal distance of a split kind.
func (m *Model) NominalLength(k SplitKind) float64 {
	return m.nominal[k]
}

// Speed converts a sector length in metres and a duration in seconds to
// km/h.
func Speed(lengthM, durationS float64) float64 {
	if durationS <= 0 {
		return 0
	}
	return (lengthM / durationS) * 3.6
}

func mod(v, m float64) float64 {
	for v < 0 {
		v += m
	}
	for v >= m {
		v -= m
	}
	return v
}

func almostEqual(a, b float64) bool {
	const eps = 1e-6
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}
