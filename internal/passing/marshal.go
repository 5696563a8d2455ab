/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package passing

import "encoding/json"

// wireRecord is the flat JSON shape of a Record: the split durations go
// out as sibling fields, not a nested object, so MarshalJSON rebuilds that
// shape from the Go-side Splits grouping. Refid is untyped because a
// marker's refid goes out as the literal string "marker" while every real
// passing carries a number.
type wireRecord struct {
	Index int64       `json:"index"`
	MPID  int         `json:"mpid"`
	Refid interface{} `json:"refid"`
	Time  string      `json:"time"`
	Elap  *string     `json:"elap"`
	Lap   *string     `json:"lap"`
	Half  *string     `json:"half"`
	Qtr   *string     `json:"qtr"`
	P200  *string     `json:"200"`
	P100  *string     `json:"100"`
	P50   *string     `json:"50"`
	Moto  *string     `json:"moto"`
	Env   *Env        `json:"env"`
	Text  string      `json:"text"`
}

func marshalRecord(r Record) ([]byte, error) {
	var refid interface{} = r.Refid
	if r.Refid == MarkerRefid {
		refid = "marker"
	}
	w := wireRecord{
		Index: r.Index,
		MPID:  r.MPID,
		Refid: refid,
		Time:  r.Time,
		Elap:  r.Elap,
		Lap:   r.Splits.Lap,
		Half:  r.Splits.Half,
		Qtr:   r.Splits.Qtr,
		P200:  r.Splits.P200,
		P100:  r.Splits.P100,
		P50:   r.Splits.P50,
		Moto:  r.Moto,
		Env:   r.Env,
		Text:  r.Text,
	}
	return json.Marshal(w)
}
