/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package engine wires every other component into the cooperative,
// single-threaded event loop: one select multiplexes raw input, the
// periodic reorder-buffer tick, the top-of-minute status tick and
// control-plane messages; a drain loop on shutdown flushes whatever
// remains of the raw input channel before exiting.
package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/alert"
	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/control"
	"github.com/ndf-zz/velotrain/internal/errkind"
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

var log = logrus.WithField("component", "engine")

// reorderTick is the period the reorder buffer is polled for releasable
// events.
const reorderTick = 100 * time.Millisecond

// statusTick is the period the status ticker checks for a top-of-minute
// boundary crossing.
const statusTick = 1 * time.Second

// rawSilenceTimeout is how long the raw input channel may go silent before
// status transitions to error.
const rawSilenceTimeout = 30 * time.Second

// Sink is the set of output publishers the engine writes decorated records
// to; the concrete transport (e.g. internal/transport/kafka) implements it.
type Sink interface {
	PublishRaw(passing.Raw)
	PublishPassing(passing.Record)
	PublishStatus(status.Snapshot)
	PublishReplay(serial string, records []passing.Record)
}

// ControlMsg is one inbound control-plane request, tagged by Kind.
type ControlMsg struct {
	Kind    ControlKind
	Payload string // marker text, reset authkey, channel id, or a /timer line
	Filter  store.Filter
	Serial  string  // replay requests: reply topic suffix, "" for the bare topic
	Moto    []int64 // retune requests: the reloaded moto cohort
}

// ControlKind names the control-plane operation a ControlMsg carries.
type ControlKind int

// The control-plane operations the engine dispatches.
const (
	CtlMarker ControlKind = iota
	CtlReset
	CtlResetUnit
	CtlReplay
	CtlForeignTimer
	CtlRetune
)

// Engine owns every live component and runs the event loop.
type Engine struct {
	clk      clock.Clock
	model    *track.Model
	sessions *session.Table
	buf      *reorder.Buffer
	tracker  *rider.Tracker
	moto     *moto.Annotator
	ctl      *control.Plane
	alerts   *alert.Dispatcher
	metrics  *metrics.Registry
	sink     Sink

	// Raw is the inbound datagram channel; Control carries control-plane
	// messages; Shutdown triggers graceful exit.
	Raw      chan passing.Raw
	Control  chan ControlMsg
	Shutdown chan struct{}
	Death    chan error

	lastRawSeen time.Time
	statusInfo  status.Info
	dailyCount  int64
	lastGateTod tod.Tod
	hasGateTod  bool
}

// New builds an Engine from its already-constructed components.
func New(clk clock.Clock, model *track.Model, sessions *session.Table, buf *reorder.Buffer,
	tracker *rider.Tracker, motoAnn *moto.Annotator, ctl *control.Plane, alerts *alert.Dispatcher,
	mreg *metrics.Registry, sink Sink) *Engine {
	return &Engine{
		clk: clk, model: model, sessions: sessions, buf: buf, tracker: tracker,
		moto: motoAnn, ctl: ctl, alerts: alerts, metrics: mreg, sink: sink,
		Raw:      make(chan passing.Raw, 256),
		Control:  make(chan ControlMsg, 32),
		Shutdown: make(chan struct{}),
		Death:    make(chan error, 1),
		statusInfo: status.Running,
	}
}

// Run is the cooperative event loop: one select multiplexes raw input, the
// reorder-release tick, the status tick and control messages. It blocks
// until Shutdown is closed, then drains the raw channel before returning,
// emitting a final status="offline" snapshot on the way out.
func (e *Engine) Run(dispatch *intake.Dispatcher) {
	reorderTicker := time.NewTicker(reorderTick)
	defer reorderTicker.Stop()
	statusTicker := time.NewTicker(statusTick)
	defer statusTicker.Stop()

	e.lastRawSeen = e.clk.Now()
	lastMinute := e.clk.Now().Minute()
	lastDay := e.clk.Now().YearDay()

runloop:
	for {
		select {
		case <-e.Shutdown:
			break runloop

		case raw := <-e.Raw:
			e.lastRawSeen = e.clk.Now()
			if e.statusInfo == status.Error {
				e.statusInfo = status.Running
			}
			if err := dispatch.Handle(raw); err != nil {
				e.handleError(err)
			}

		case <-reorderTicker.C:
			e.releaseReorder()

		case <-statusTicker.C:
			now := e.clk.Now()
			e.sessions.Housekeep(now)
			if now.YearDay() != lastDay {
				lastDay = now.YearDay()
				e.rollDay()
			}
			if now.Minute() != lastMinute {
				lastMinute = now.Minute()
				e.sessions.RollNoise()
				e.fireSessionAlarms(now)
				e.emitStatus()
			}
			if !e.ctl.Resetting() && now.Sub(e.lastRawSeen) > rawSilenceTimeout {
				e.statusInfo = status.Error
			}

		case msg := <-e.Control:
			e.handleControl(msg, dispatch)
		}
	}

drainloop:
	for {
		select {
		case raw := <-e.Raw:
			if err := dispatch.Handle(raw); err != nil {
				e.handleError(err)
			}
		default:
			break drainloop
		}
	}

	e.releaseReorder()
	e.statusInfo = status.Offline
	e.emitStatus()
}

// rollDay restarts the daily index sequence and replay log at local
// midnight; decoder sessions and rider histories carry across untouched.
func (e *Engine) rollDay() {
	log.Info("local midnight, restarting daily sequence")
	e.ctl.Rollover()
	e.dailyCount = 0
	e.hasGateTod = false
}

// fireSessionAlarms raises one webhook per session currently stale or past
// the interference threshold, once per minute while the condition holds.
func (e *Engine) fireSessionAlarms(now time.Time) {
	if e.alerts == nil {
		return
	}
	for _, s := range e.sessions.All() {
		if s.State() == session.Stale {
			e.metrics.Mark(metrics.MeterAlarms)
			e.alerts.Fire(alert.Event{Kind: alert.KindStale, Channel: s.Channel(), Detail: "no events from decoder", At: now})
		}
		if s.Interfered() {
			e.metrics.Mark(metrics.MeterAlarms)
			e.alerts.Fire(alert.Event{Kind: alert.KindNoise, Channel: s.Channel(), Detail: "interference suspected", At: now})
		}
	}
}

// releaseReorder drains every releasable entry from the reorder buffer, in
// order, through the rider tracker and moto annotator, then publishes each
// resulting record.
func (e *Engine) releaseReorder() {
	now := e.clk.Now()
	if e.ctl.Resetting() {
		return
	}
	for _, cp := range e.buf.Release(now) {
		e.emitCorrected(cp, now)
	}
	if e.buf.Overflowed() {
		e.statusInfo = status.Error
		e.metrics.Mark(metrics.MeterReorderDrop)
		if e.alerts != nil {
			e.alerts.Fire(alert.Event{Kind: alert.KindOverflow, Detail: "reorder buffer overflow", At: now})
		}
	}
}

func (e *Engine) emitCorrected(cp passing.Corrected, now time.Time) {
	rec := e.tracker.Process(cp, now)
	rec.Index = e.ctl.NextIndex()
	rec.Time = rec.Tod.FormatDCM()
	rec.Moto = e.moto.Annotate(cp.MPID, cp.Refid, cp.Tod)

	if cp.MPID == track.GateMPID {
		e.lastGateTod = cp.Tod
		e.hasGateTod = true
	}

	e.dailyCount++
	e.metrics.Mark(metrics.MeterPassingsOut)
	e.ctl.LogPassing(rec)
	e.sink.PublishPassing(rec)
}

func (e *Engine) emitStatus() {
	src := status.Source{
		Sessions:     e.sessions,
		DailyCount:   func() int64 { return e.dailyCount },
		LastGateTod:  func() (tod.Tod, bool) { return e.lastGateTod, e.hasGateTod },
		UTCOffsetSec: e.utcOffsetSeconds,
		MPIDFor: func(ch string) int {
			if mp, ok := e.model.ByChannel(ch); ok {
				return mp.MPID
			}
			return 0
		},
		NameFor: func(ch string) string {
			if mp, ok := e.model.ByChannel(ch); ok {
				return mp.Name
			}
			return ""
		},
	}
	snap := status.Build(src, e.statusInfo, e.clk.Tod())
	e.sink.PublishStatus(snap)
}

func (e *Engine) utcOffsetSeconds() float64 {
	_, offset := e.clk.Now().Zone()
	return float64(offset)
}

func (e *Engine) handleControl(msg ControlMsg, dispatch *intake.Dispatcher) {
	switch msg.Kind {
	case CtlMarker:
		rec := e.ctl.Marker(msg.Payload)
		e.dailyCount++
		e.metrics.Mark(metrics.MeterMarkers)
		e.sink.PublishPassing(rec)

	case CtlReset:
		if !e.ctl.AuthOK([]byte(msg.Payload)) {
			e.handleError(errkind.New(errkind.AuthFailure, nil))
			return
		}
		e.statusInfo = status.Resetting
		e.emitStatus()
		e.ctl.Reset()
		e.moto.Reset()
		e.dailyCount = 0
		e.hasGateTod = false
		e.statusInfo = status.Running
		e.emitStatus()

	case CtlResetUnit:
		if err := e.ctl.ResetUnit(msg.Payload); err != nil {
			log.WithError(err).Warn("unit reset rejected")
		}

	case CtlReplay:
		records := e.ctl.Replay(msg.Filter)
		e.sink.PublishReplay(msg.Serial, records)

	case CtlForeignTimer:
		if err := dispatch.HandleForeignTimer(msg.Payload); err != nil {
			e.handleError(err)
		}

	case CtlRetune:
		e.moto.SetRefids(msg.Moto)
		log.Info("moto cohort reloaded")
	}
}

// intakeSinkAdapter implements intake.Sink over an Engine: raw passthrough
// goes straight to the output Sink, corrected events go into the reorder
// buffer.
type intakeSinkAdapter struct{ e *Engine }

func (a intakeSinkAdapter) PublishRaw(raw passing.Raw) {
	a.e.metrics.Mark(metrics.MeterRawIn)
	a.e.sink.PublishRaw(raw)
}

func (a intakeSinkAdapter) EnqueueCorrected(cp passing.Corrected, now time.Time) error {
	if late := a.e.buf.Push(cp, now); late != nil {
		a.e.emitCorrected(*late, now)
	}
	return nil
}

// IntakeSink adapts the engine into the intake.Sink interface, for building
// an intake.Dispatcher that feeds this engine.
func (e *Engine) IntakeSink() intake.Sink {
	return intakeSinkAdapter{e: e}
}

func (e *Engine) handleError(err error) {
	if ke, ok := err.(*errkind.Error); ok {
		if ke.Kind.Fatal() {
			e.Death <- err
			return
		}
		log.WithError(err).WithField("kind", ke.Kind.String()).Warn("recovered from event error")
		return
	}
	log.WithError(err).Warn("recovered from event error")
}
