/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package intake implements raw event dispatch: identifying the source
// channel of an inbound reading, stamping host receive time, forwarding
// trigger refids to the owning session without enqueueing them, and
// applying the session's current offset to everything else before handing
// it to the reorder buffer.
package intake

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/errkind"
	"github.com/ndf-zz/velotrain/internal/metrics"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

var log = logrus.WithField("component", "intake")

// Sink receives RawPassings before clock correction, and Corrected ones
// after, decoupling this package from the concrete transport.
type Sink interface {
	PublishRaw(passing.Raw)
	EnqueueCorrected(passing.Corrected, time.Time) error
}

// Gate names the start-gate system as intake sees it: a reserved refid
// arriving on a regular decoder channel, remapped to the synthetic
// measurement point and backdated by the gate's fixed pulse latency.
type Gate struct {
	Refid int64     // gate system id, 0 when no gate is configured
	Src   string    // channel the gate reports through, "" accepts any
	Delay tod.Delta // the start pulse trails the actual gate release by this much
}

// Dispatcher routes raw events to the correct session and into Sink.
type Dispatcher struct {
	clk      clock.Clock
	sessions *session.Table
	model    *track.Model
	trig     int64
	gate     Gate
	cohort   map[int64]bool // configured rider/gate/moto refids for noise accounting
	mreg     *metrics.Registry
	sink     Sink
}

// New builds a Dispatcher. trig is the configured trigger refid. cohort
// lists every refid the operator expects to see (riders, gate system id,
// moto transponders); any other non-trigger refid counts toward a channel's
// noise score. mreg may be nil.
func New(clk clock.Clock, sessions *session.Table, model *track.Model, trig int64, gate Gate, cohort []int64, mreg *metrics.Registry, sink Sink) *Dispatcher {
	set := make(map[int64]bool, len(cohort))
	for _, id := range cohort {
		set[id] = true
	}
	return &Dispatcher{clk: clk, sessions: sessions, model: model, trig: trig, gate: gate, cohort: set, mreg: mreg, sink: sink}
}

// Handle processes one raw reading: drop if the channel is unknown,
// publish verbatim to rawpass, route triggers to the session without
// enqueueing, and otherwise apply the current offset and enqueue into the
// reorder buffer.
func (d *Dispatcher) Handle(raw passing.Raw) error {
	sess, ok := d.sessions.Get(raw.Channel)
	if !ok {
		return errkind.New(errkind.TransientInput, fmt.Errorf("intake: unknown channel %q", raw.Channel))
	}
	mp, ok := d.model.ByChannel(raw.Channel)
	if !ok {
		return errkind.New(errkind.TransientInput, fmt.Errorf("intake: channel %q has a session but no track geometry", raw.Channel))
	}

	d.sink.PublishRaw(raw)

	now := d.clk.Now()
	for _, id := range raw.LowBattery {
		sess.MarkLowBattery(id)
	}

	if raw.Refid == d.trig {
		boundary := session.SnapToMinute(now)
		sess.HandleTrigger(boundary, raw.RawTod, now)
		d.sessions.NoteMinuteBoundary(raw.Channel, boundary)
		if d.mreg != nil {
			d.mreg.Mark(metrics.MeterTriggers)
		}
		return nil
	}

	if len(d.cohort) > 0 && !d.cohort[raw.Refid] {
		sess.RecordSpurious()
	}
	sess.Seen(now)

	if sess.State() != session.Online {
		// Forwarded as rawpass above, but only an online session has a
		// trusted offset estimate; anything else stays out of the
		// reorder buffer.
		return nil
	}

	corrected := passing.Corrected{
		MPID:    mp.MPID,
		Channel: raw.Channel,
		Refid:   raw.Refid,
		Tod:     sess.Correct(raw.RawTod),
		Env:     raw.Env,
		Info:    raw.Info,
	}
	if d.isGate(raw) {
		corrected.MPID = track.GateMPID
		corrected.Tod = corrected.Tod.Add(-d.gate.Delay)
	}
	return d.sink.EnqueueCorrected(corrected, now)
}

// isGate reports whether raw is the start-gate system's passing.
func (d *Dispatcher) isGate(raw passing.Raw) bool {
	if d.gate.Refid == 0 || raw.Refid != d.gate.Refid {
		return false
	}
	return d.gate.Src == "" || raw.Channel == d.gate.Src
}

// ParseForeignTimer parses the `/timer` control-plane text format
// `INDEX;SOURCE;CHANNEL;REFID;TOD`. now supplies the "now"
// sentinel's value; boundary supplies the "0" sentinel's value (the most
// recent minute boundary), which only applies meaningfully to trigger
// refids.
func ParseForeignTimer(line string, now, boundary tod.Tod) (index int64, source, channel string, refid int64, t tod.Tod, err error) {
	fields := strings.Split(line, ";")
	if len(fields) != 5 {
		return 0, "", "", 0, 0, fmt.Errorf("intake: malformed timer record %q", line)
	}

	index, err = strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return 0, "", "", 0, 0, fmt.Errorf("intake: invalid index in %q: %w", line, err)
	}
	source = strings.TrimSpace(fields[1])
	channel = strings.TrimSpace(fields[2])
	refid, err = strconv.ParseInt(strings.TrimSpace(fields[3]), 10, 64)
	if err != nil {
		return 0, "", "", 0, 0, fmt.Errorf("intake: invalid refid in %q: %w", line, err)
	}

	todField := strings.TrimSpace(fields[4])
	if todField == "0" {
		t = boundary
	} else {
		t, err = tod.Parse(todField, now)
		if err != nil {
			return 0, "", "", 0, 0, fmt.Errorf("intake: invalid tod in %q: %w", line, err)
		}
	}
	return index, source, channel, refid, t, nil
}

// HandleForeignTimer parses and dispatches one /timer record.
func (d *Dispatcher) HandleForeignTimer(line string) error {
	boundary := d.sessions.MinuteBoundary()
	_, _, channel, refid, t, err := ParseForeignTimer(line, d.clk.Tod(), boundary)
	if err != nil {
		log.WithError(err).Warn("dropping malformed foreign-timer record")
		return errkind.New(errkind.TransientInput, err)
	}
	return d.Handle(passing.Raw{
		Channel: channel,
		Refid:   refid,
		RawTod:  t,
		RecvTod: d.clk.Tod(),
	})
}
