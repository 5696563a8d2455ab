/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/errkind"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

type fakeSink struct {
	raws      []passing.Raw
	corrected []passing.Corrected
}

func (f *fakeSink) PublishRaw(r passing.Raw) { f.raws = append(f.raws, r) }
func (f *fakeSink) EnqueueCorrected(cp passing.Corrected, now time.Time) error {
	f.corrected = append(f.corrected, cp)
	return nil
}

func testModel(t *testing.T) *track.Model {
	t.Helper()
	cfg := map[string]track.Config{
		"C1": {Name: "Start/Finish", OffsetM: 0},
	}
	m, err := track.New(250, []string{"C1"}, cfg, 38, 90, 9, 22.5)
	require.NoError(t, err)
	return m
}

func TestHandleUnknownChannel(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	err := d.Handle(passing.Raw{Channel: "C99", Refid: 100000})
	require.Error(t, err)
	var ke *errkind.Error
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, errkind.TransientInput, ke.Kind)
}

func TestHandleTriggerDoesNotEnqueue(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	err := d.Handle(passing.Raw{Channel: "C1", Refid: 255, RawTod: tod.Tod(100)})
	require.NoError(t, err)
	assert.Len(t, sink.raws, 1)
	assert.Empty(t, sink.corrected)

	s, _ := sessions.Get("C1")
	assert.Equal(t, session.Syncing, s.State())
}

func TestHandleNonTriggerNotEnqueuedWhileOffline(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	err := d.Handle(passing.Raw{Channel: "C1", Refid: 100000, RawTod: tod.Tod(100)})
	require.NoError(t, err)
	assert.Empty(t, sink.corrected)
}

func TestHandleNonTriggerNotEnqueuedWhileSyncing(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	// a single trigger leaves the session syncing, with no trusted offset.
	err := d.Handle(passing.Raw{Channel: "C1", Refid: 255, RawTod: tod.Tod(100)})
	require.NoError(t, err)
	s, _ := sessions.Get("C1")
	require.Equal(t, session.Syncing, s.State())

	err = d.Handle(passing.Raw{Channel: "C1", Refid: 100000, RawTod: tod.Tod(500)})
	require.NoError(t, err)
	assert.Len(t, sink.raws, 2)
	assert.Empty(t, sink.corrected)
}

func TestHandleEnqueuesOnceOnline(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	s, _ := sessions.Get("C1")
	now := clk.Now()
	s.HandleTrigger(tod.Tod(1000), tod.Tod(100), now)
	s.HandleTrigger(tod.Tod(1040), tod.Tod(100), now)
	require.Equal(t, session.Online, s.State())

	err := d.Handle(passing.Raw{Channel: "C1", Refid: 100000, RawTod: tod.Tod(5000)})
	require.NoError(t, err)
	require.Len(t, sink.corrected, 1)
	assert.Equal(t, s.Correct(tod.Tod(5000)), sink.corrected[0].Tod)
}

func TestHandleSpuriousRefidRecordedWhenCohortConfigured(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, []int64{100000}, nil, sink)

	s, _ := sessions.Get("C1")
	now := clk.Now()
	s.HandleTrigger(tod.Tod(1000), tod.Tod(100), now)
	s.HandleTrigger(tod.Tod(1040), tod.Tod(100), now)

	err := d.Handle(passing.Raw{Channel: "C1", Refid: 999999, RawTod: tod.Tod(5000)})
	require.NoError(t, err)
	for i := 0; i < 79; i++ {
		s.RecordSpurious()
	}
	s.RollNoise()
	assert.True(t, s.Interfered())
}

func TestHandleGatePassingMapsToSyntheticPoint(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	gate := Gate{Refid: 51, Src: "C1", Delay: tod.DeltaFromSeconds(0.075)}
	d := New(clk, sessions, testModel(t), 255, gate, nil, nil, sink)

	s, _ := sessions.Get("C1")
	now := clk.Now()
	s.HandleTrigger(tod.Tod(1000), tod.Tod(100), now)
	s.HandleTrigger(tod.Tod(1040), tod.Tod(100), now)

	err := d.Handle(passing.Raw{Channel: "C1", Refid: 51, RawTod: tod.FromSeconds(100)})
	require.NoError(t, err)
	require.Len(t, sink.corrected, 1)
	assert.Equal(t, track.GateMPID, sink.corrected[0].MPID)
	want := s.Correct(tod.FromSeconds(100)).Add(-gate.Delay)
	assert.Equal(t, want, sink.corrected[0].Tod)
}

func TestParseForeignTimer(t *testing.T) {
	idx, source, channel, refid, tv, err := ParseForeignTimer("5;ext;C1;100000;1.2345", tod.Tod(0), tod.Tod(0))
	require.NoError(t, err)
	assert.Equal(t, int64(5), idx)
	assert.Equal(t, "ext", source)
	assert.Equal(t, "C1", channel)
	assert.Equal(t, int64(100000), refid)
	assert.Equal(t, tod.Tod(1*tod.TicksPerSecond+2345), tv)
}

func TestParseForeignTimerZeroSentinelUsesBoundary(t *testing.T) {
	_, _, _, _, tv, err := ParseForeignTimer("1;ext;C1;255;0", tod.Tod(0), tod.Tod(9999))
	require.NoError(t, err)
	assert.Equal(t, tod.Tod(9999), tv)
}

func TestParseForeignTimerMalformed(t *testing.T) {
	_, _, _, _, _, err := ParseForeignTimer("1;2;3", tod.Tod(0), tod.Tod(0))
	assert.Error(t, err)
}

func TestHandleForeignTimerUsesChannelNotSource(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sessions := session.NewTable([]string{"C1"}, "")
	sink := &fakeSink{}
	d := New(clk, sessions, testModel(t), 255, Gate{}, nil, nil, sink)

	err := d.HandleForeignTimer("1;extsystem;C1;100000;5.0")
	require.NoError(t, err)
	require.Len(t, sink.raws, 1)
	assert.Equal(t, "C1", sink.raws[0].Channel)
}
