/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/control"
	"github.com/ndf-zz/velotrain/internal/intake"
	"github.com/ndf-zz/velotrain/internal/metrics"
	"github.com/ndf-zz/velotrain/internal/moto"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/reorder"
	"github.com/ndf-zz/velotrain/internal/rider"
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/status"
	"github.com/ndf-zz/velotrain/internal/store"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

type fakeSink struct {
	raws     []passing.Raw
	passings []passing.Record
	statuses []status.Snapshot
	replays  []struct {
		serial  string
		records []passing.Record
	}
}

func (f *fakeSink) PublishRaw(r passing.Raw)             { f.raws = append(f.raws, r) }
func (f *fakeSink) PublishPassing(rec passing.Record)    { f.passings = append(f.passings, rec) }
func (f *fakeSink) PublishStatus(snap status.Snapshot)   { f.statuses = append(f.statuses, snap) }
func (f *fakeSink) PublishReplay(s string, r []passing.Record) {
	f.replays = append(f.replays, struct {
		serial  string
		records []passing.Record
	}{s, r})
}

func newTestEngine(t *testing.T) (*Engine, *fakeSink, *clock.Virtual, *intake.Dispatcher) {
	t.Helper()
	cfg := map[string]track.Config{
		"C1": {Name: "Start/Finish", OffsetM: 0},
	}
	model, err := track.New(250, []string{"C1"}, cfg, 38, 90, 9, 22.5)
	require.NoError(t, err)

	clk := clock.NewVirtual(time.Date(2026, 7, 31, 12, 0, 0, 0, time.Local))
	sessions := session.NewTable([]string{"C1"}, "")
	buf := reorder.New(reorder.DefaultWindow, 16)
	tracker := rider.NewTracker(model)
	motoAnn := moto.New([]int64{900001})
	ctl := control.New(clk, []byte("secret"), buf, tracker, sessions, store.NewMemory(), nil)
	sink := &fakeSink{}
	eng := New(clk, model, sessions, buf, tracker, motoAnn, ctl, nil, metrics.New(), sink)
	dispatch := intake.New(clk, sessions, model, 255, intake.Gate{}, nil, nil, eng.IntakeSink())
	return eng, sink, clk, dispatch
}

func TestMarkerGetsSequentialIndexes(t *testing.T) {
	eng, sink, _, dispatch := newTestEngine(t)

	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "one"}, dispatch)
	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "two"}, dispatch)

	require.Len(t, sink.passings, 2)
	assert.Equal(t, int64(0), sink.passings[0].Index)
	assert.Equal(t, "one", sink.passings[0].Text)
	assert.Equal(t, int64(1), sink.passings[1].Index)
	assert.Equal(t, 0, sink.passings[0].MPID)
}

func TestResetWrongKeyChangesNothing(t *testing.T) {
	eng, sink, _, dispatch := newTestEngine(t)
	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "one"}, dispatch)

	eng.handleControl(ControlMsg{Kind: CtlReset, Payload: "wrong"}, dispatch)
	assert.Empty(t, sink.statuses)

	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "two"}, dispatch)
	assert.Equal(t, int64(1), sink.passings[1].Index)
}

func TestResetEmitsStatusPairAndRestartsIndexes(t *testing.T) {
	eng, sink, _, dispatch := newTestEngine(t)
	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "one"}, dispatch)

	eng.handleControl(ControlMsg{Kind: CtlReset, Payload: "secret"}, dispatch)
	require.Len(t, sink.statuses, 2)
	assert.Equal(t, status.Resetting, sink.statuses[0].Info)
	assert.Equal(t, status.Running, sink.statuses[1].Info)

	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "after"}, dispatch)
	last := sink.passings[len(sink.passings)-1]
	assert.Equal(t, int64(0), last.Index)
}

func TestReplayAnswersOnRequestSerial(t *testing.T) {
	eng, sink, _, dispatch := newTestEngine(t)
	eng.handleControl(ControlMsg{Kind: CtlMarker, Payload: "one"}, dispatch)

	eng.handleControl(ControlMsg{Kind: CtlReplay, Filter: store.Filter{}, Serial: "abc"}, dispatch)
	require.Len(t, sink.replays, 1)
	assert.Equal(t, "abc", sink.replays[0].serial)
	require.Len(t, sink.replays[0].records, 1)
	assert.Equal(t, "one", sink.replays[0].records[0].Text)
}

func TestEmitCorrectedDecoratesAndLogs(t *testing.T) {
	eng, sink, clk, _ := newTestEngine(t)

	cp := passing.Corrected{MPID: 1, Channel: "C1", Refid: 100000, Tod: tod.FromSeconds(12 * 3600)}
	eng.emitCorrected(cp, clk.Now())

	require.Len(t, sink.passings, 1)
	rec := sink.passings[0]
	assert.Equal(t, int64(0), rec.Index)
	assert.Equal(t, tod.FromSeconds(12*3600).FormatDCM(), rec.Time)
	assert.Nil(t, rec.Moto)

	records := eng.ctl.Replay(store.Filter{Refids: []int64{100000}})
	require.Len(t, records, 1)
	assert.Equal(t, rec.Time, records[0].Time)
}

func TestMotoProximityDecoration(t *testing.T) {
	eng, sink, clk, _ := newTestEngine(t)

	eng.emitCorrected(passing.Corrected{MPID: 1, Channel: "C1", Refid: 900001, Tod: tod.FromSeconds(100)}, clk.Now())
	eng.emitCorrected(passing.Corrected{MPID: 1, Channel: "C1", Refid: 100000, Tod: tod.FromSeconds(102)}, clk.Now())

	require.Len(t, sink.passings, 2)
	require.NotNil(t, sink.passings[0].Moto)
	assert.Equal(t, "0.00", *sink.passings[0].Moto)
	require.NotNil(t, sink.passings[1].Moto)
	assert.Equal(t, "2.00", *sink.passings[1].Moto)
}
