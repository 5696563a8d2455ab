/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package passing holds the wire-adjacent data types shared by every stage
// of the pipeline: the raw reading handed in by intake, the clock-corrected
// reading queued in the reorder buffer, and the fully decorated record the
// core emits.
package passing

import (
	"encoding/json"
	"fmt"

	"github.com/ndf-zz/velotrain/internal/tod"
)

// Env is an optional environmental sample carried by a decoder. On the wire
// it is the three-element array [temp_c, rh_percent, hpa], or null when
// absent.
type Env struct {
	TempC     float64
	RHPercent float64
	HPa       float64
}

// MarshalJSON encodes e as [temp_c, rh_percent, hpa].
func (e Env) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]float64{e.TempC, e.RHPercent, e.HPa})
}

// UnmarshalJSON decodes the three-element array form.
func (e *Env) UnmarshalJSON(b []byte) error {
	var vals [3]float64
	if err := json.Unmarshal(b, &vals); err != nil {
		return fmt.Errorf("passing: env must be [temp_c, rh_percent, hpa]: %w", err)
	}
	e.TempC, e.RHPercent, e.HPa = vals[0], vals[1], vals[2]
	return nil
}

// Raw is a RawPassing: a transponder or trigger reading as received from a
// channel, before clock correction. Channel is the decoder channel id
// ("C1".."C9"); a foreign-timer record carries the channel named in its
// CHANNEL field, and a gate reading the channel it reported through.
type Raw struct {
	Channel    string
	Refid      int64
	RawTod     tod.Tod
	RecvTod    tod.Tod
	Env        *Env
	Info       string
	LowBattery []int64
}

// Corrected is a RawPassing with the channel's estimated unit offset
// applied, queued in the reorder buffer.
type Corrected struct {
	MPID       int
	Channel    string
	Refid      int64
	Tod        tod.Tod
	Env        *Env
	Info       string
	OutOfOrder bool
}

// Splits holds the six formatted split durations a rider passing may carry.
// Every field is nil when that split is undefined for the passing.
type Splits struct {
	Lap   *string `json:"lap"`
	Half  *string `json:"half"`
	Qtr   *string `json:"qtr"`
	P200  *string `json:"200"`
	P100  *string `json:"100"`
	P50   *string `json:"50"`
}

// Record is a fully decorated EmissionRecord.
type Record struct {
	Index      int64   `json:"index"`
	MPID       int     `json:"mpid"`
	Refid      int64   `json:"refid"`
	Time       string  `json:"time"`
	Elap       *string `json:"elap"`
	Splits     Splits  `json:"-"`
	Moto       *string `json:"moto"`
	Env        *Env    `json:"env"`
	Text       string  `json:"text"`
	OutOfOrder bool    `json:"-"`

	// Tod is the corrected time-of-day the record sorts and filters by.
	// It is not part of the published JSON schema but drives replay.
	Tod tod.Tod `json:"-"`
}

// MarkerRefid is the reserved Refid a synthetic marker record carries
// internally. On the wire a marker's refid is the literal string "marker",
// never this number; MarshalJSON handles the substitution.
const MarkerRefid int64 = -1

// MarshalJSON flattens Splits into the record's top-level JSON fields:
// consumers see lap/half/qtr/200/100/50 as sibling fields of an emitted
// record, not a nested object.
func (r Record) MarshalJSON() ([]byte, error) {
	return marshalRecord(r)
}
