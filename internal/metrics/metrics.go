/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package metrics wraps an in-process rcrowley/go-metrics registry with
// the named meters the event loop marks.
package metrics

import (
	metrics "github.com/rcrowley/go-metrics"
)

// Registry is the process-wide metrics registry.
type Registry struct {
	reg metrics.Registry
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{reg: metrics.NewRegistry()}
}

// Mark increments the named meter by one.
func (r *Registry) Mark(name string) {
	metrics.GetOrRegisterMeter(name, r.reg).Mark(1)
}

// MarkN increments the named meter by n.
func (r *Registry) MarkN(name string, n int64) {
	metrics.GetOrRegisterMeter(name, r.reg).Mark(n)
}

// Rate1 returns the named meter's one-minute moving average rate.
func (r *Registry) Rate1(name string) float64 {
	return metrics.GetOrRegisterMeter(name, r.reg).Rate1()
}

// The meter names the event loop marks.
const (
	MeterRawIn        = "/velotrain/raw.per.second"
	MeterPassingsOut  = "/velotrain/passings.per.second"
	MeterTriggers     = "/velotrain/triggers.per.second"
	MeterReorderDrop  = "/velotrain/reorder.dropped.per.second"
	MeterAlarms       = "/velotrain/alarms.per.second"
	MeterMarkers      = "/velotrain/markers.per.second"
)

// Raw exposes the underlying metrics.Registry for a reporter (e.g. a
// periodic logrus dump).
func (r *Registry) Raw() metrics.Registry { return r.reg }
