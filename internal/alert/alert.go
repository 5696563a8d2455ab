/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package alert dispatches webhook notifications for background alarm
// conditions (decoder noise, reorder overflow, stale sessions). In-flight
// dispatch goroutines are bracketed by delay.Use/delay.Done so a Reset can
// wait for every outstanding webhook before declaring itself complete.
package alert

import (
	"sync"
	"time"

	resty "gopkg.in/resty.v1"
	"github.com/mjolnir42/delay"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "alert")

// Kind names the alarm condition being reported.
type Kind string

// The alarm kinds the event loop raises.
const (
	KindNoise    Kind = "noise"
	KindOverflow Kind = "overflow"
	KindStale    Kind = "stale"
)

// Event is a single webhook payload.
type Event struct {
	Kind    Kind      `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// Dispatcher posts Events to a configured webhook URL and tracks in-flight
// posts so a daily Reset can drain them first.
type Dispatcher struct {
	client *resty.Client
	url    string
	delay  *delay.Delay
	wg     sync.WaitGroup
}

// New builds a Dispatcher. url may be empty, in which case Fire is a no-op
// (alerting is optional per deployment).
func New(url string, retryCount int, retryMinMS, retryMaxMS int) *Dispatcher {
	client := resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(15)).
		SetDisableWarn(true).
		SetRetryCount(retryCount).
		SetRetryWaitTime(time.Duration(retryMinMS) * time.Millisecond).
		SetRetryMaxWaitTime(time.Duration(retryMaxMS) * time.Millisecond).
		SetHeader(`Content-Type`, `application/json`).
		SetContentLength(true)

	return &Dispatcher{
		client: client,
		url:    url,
		delay:  delay.New(),
	}
}

// Fire dispatches ev asynchronously. It returns immediately: the event loop
// must never block on an alert webhook.
func (d *Dispatcher) Fire(ev Event) {
	if d.url == "" {
		return
	}
	d.delay.Use()
	d.wg.Add(1)
	go func() {
		defer d.delay.Done()
		defer d.wg.Done()
		resp, err := d.client.R().SetBody(ev).Post(d.url)
		if err != nil {
			log.WithError(err).WithField("kind", ev.Kind).Warn("alert dispatch failed")
			return
		}
		if resp.StatusCode() >= 300 {
			log.WithField("kind", ev.Kind).WithField("status", resp.StatusCode()).Warn("alert endpoint rejected event")
		}
	}()
}

// Drain blocks until every in-flight Fire call has completed, used by
// control.Plane.Reset to avoid a stale alert racing the reset it
// describes.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}
