/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig() map[string]Config {
	return map[string]Config{
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
}

func defaultSeq() []string {
	return []string{"C1", "C9", "C4", "C6", "C3", "C5", "C7", "C8", "C2"}
}

func TestNewValidTopology(t *testing.T) {
	m, err := New(250, defaultSeq(), defaultConfig(), 38, 90, 9, 22.5)
	require.NoError(t, err)
	assert.Equal(t, 250.0, m.LapLen)

	mp, ok := m.ByChannel("C1")
	require.True(t, ok)
	assert.Equal(t, 1, mp.MPID)

	mp9, _ := m.ByChannel("C2")
	assert.Equal(t, 9, mp9.MPID)
}

func TestNewRejectsDuplicateChannel(t *testing.T) {
	seq := append(defaultSeq(), "C1")
	_, err := New(250, seq, defaultConfig(), 38, 90, 9, 22.5)
	assert.Error(t, err)
}

func TestNewRejectsMissingAncestor(t *testing.T) {
	cfg := defaultConfig()
	c1 := cfg["C1"]
	c1.Qtr = "C99"
	cfg["C1"] = c1
	_, err := New(250, defaultSeq(), cfg, 38, 90, 9, 22.5)
	assert.Error(t, err)
}

func TestNewRejectsBadAncestorDistance(t *testing.T) {
	cfg := defaultConfig()
	c9 := cfg["C9"]
	c9.Half = "C1" // distance from C1(0) to C9(25) mod 250 = 25, nominal half = 125: mismatch
	cfg["C9"] = c9
	_, err := New(250, defaultSeq(), cfg, 38, 90, 9, 22.5)
	assert.Error(t, err)
}

func TestSectorAndSpeed(t *testing.T) {
	m, err := New(250, defaultSeq(), defaultConfig(), 38, 90, 9, 22.5)
	require.NoError(t, err)

	c1, _ := m.ByChannel("C1")
	c9, _ := m.ByChannel("C9")
	assert.Equal(t, 25.0, m.Sector(c1, c9))

	assert.InDelta(t, 50.0, Speed(250, 18), 1e-9)
}

func TestNextWrapsAroundLoop(t *testing.T) {
	m, err := New(250, defaultSeq(), defaultConfig(), 38, 90, 9, 22.5)
	require.NoError(t, err)

	last, _ := m.ByChannel("C2")
	first, _ := m.ByChannel("C1")
	assert.Equal(t, first.MPID, m.Next(last).MPID)
}
