/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package rider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
)

func defaultModel(t *testing.T) *track.Model {
	t.Helper()
	cfg := map[string]track.Config{
		"C1": {Name: "Start/Finish", OffsetM: 0, Half: "C4"},
		"C9": {Name: "P2", OffsetM: 25},
		"C4": {Name: "Half", OffsetM: 125},
		"C6": {Name: "P4", OffsetM: 150},
		"C3": {Name: "P5", OffsetM: 175},
		"C5": {Name: "P6", OffsetM: 180},
		"C7": {Name: "P7", OffsetM: 190},
		"C8": {Name: "P8", OffsetM: 220},
		"C2": {Name: "P9", OffsetM: 240},
	}
	seq := []string{"C1", "C9", "C4", "C6", "C3", "C5", "C7", "C8", "C2"}
	m, err := track.New(250, seq, cfg, 38, 90, 9, 22.5)
	require.NoError(t, err)
	return m
}

func at(hh, mm, ss, ms int) tod.Tod {
	return tod.Tod(int64(hh)*3600*tod.TicksPerSecond + int64(mm)*60*tod.TicksPerSecond + int64(ss)*tod.TicksPerSecond + int64(ms)*10)
}

func TestFullLap(t *testing.T) {
	m := defaultModel(t)
	tr := NewTracker(m)
	c1, _ := m.ByChannel("C1")
	now := time.Now()

	first := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 0, 0)}, now)
	assert.Nil(t, first.Splits.Lap)

	second := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 18, 0)}, now)
	require.NotNil(t, second.Splits.Lap)
	assert.Equal(t, "18.00", *second.Splits.Lap)
	require.NotNil(t, second.Elap)
	assert.Equal(t, "18.00", *second.Elap)
}

func TestIsolatedSlow(t *testing.T) {
	m := defaultModel(t)
	tr := NewTracker(m)
	c1, _ := m.ByChannel("C1")
	now := time.Now()

	tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 0, 0)}, now)
	second := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 30, 0)}, now)

	assert.Nil(t, second.Splits.Lap)
	assert.Nil(t, second.Splits.Half)
	assert.Nil(t, second.Elap)
}

func TestGateStart(t *testing.T) {
	m := defaultModel(t)
	tr := NewTracker(m)
	c1, _ := m.ByChannel("C1")
	now := time.Now()

	tr.Process(passing.Corrected{MPID: track.GateMPID, Refid: 100000, Tod: at(12, 10, 0, 0)}, now)
	rec := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 10, 25, 0)}, now)

	assert.Nil(t, rec.Splits.Lap)
	require.NotNil(t, rec.Elap)
	assert.Equal(t, "25.00", *rec.Elap)
}

func TestOutOfOrderLateLateDoesNotMutateHistory(t *testing.T) {
	m := defaultModel(t)
	tr := NewTracker(m)
	c1, _ := m.ByChannel("C1")
	now := time.Now()

	tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 0, 0)}, now)

	late := passing.Corrected{
		MPID: c1.MPID, Refid: 100000, Tod: at(11, 59, 50, 0), OutOfOrder: true,
	}
	rec := tr.Process(late, now)
	assert.True(t, rec.OutOfOrder)
	assert.Nil(t, rec.Splits.Lap)

	following := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 18, 0)}, now)
	require.NotNil(t, following.Splits.Lap)
	assert.Equal(t, "18.00", *following.Splits.Lap)
}

func TestReset(t *testing.T) {
	m := defaultModel(t)
	tr := NewTracker(m)
	c1, _ := m.ByChannel("C1")
	now := time.Now()

	tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 0, 0)}, now)
	tr.Reset()

	rec := tr.Process(passing.Corrected{MPID: c1.MPID, Refid: 100000, Tod: at(12, 0, 18, 0)}, now)
	assert.Nil(t, rec.Splits.Lap)
}
