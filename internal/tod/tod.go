/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package tod implements fixed-precision wall-clock-of-day arithmetic.
//
// A Tod is a non-negative offset from local midnight stored as an integer
// count of ticks, 10 000 ticks per second (0.1 ms resolution), so that
// arithmetic never drifts the way repeated float additions would.
package tod

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TicksPerSecond is the fixed-point resolution of a Tod: 0.1 ms.
const TicksPerSecond = 10000

// Tod is a wall-clock-of-day value, ticks since local midnight.
type Tod int64

// Delta is a signed difference between two Tod values, in ticks.
type Delta int64

// Seconds returns d as a floating point number of seconds.
func (d Delta) Seconds() float64 {
	return float64(d) / TicksPerSecond
}

// Ticks returns d as a raw tick count.
func (d Delta) Ticks() int64 {
	return int64(d)
}

// FromSeconds builds a Tod from a floating point second count.
func FromSeconds(s float64) Tod {
	return Tod(s * TicksPerSecond)
}

// DeltaFromSeconds builds a Delta from a floating point second count.
func DeltaFromSeconds(s float64) Delta {
	return Delta(s * TicksPerSecond)
}

// Sub returns the signed tick difference t - o.
func (t Tod) Sub(o Tod) Delta {
	return Delta(t - o)
}

// Add returns t shifted by d.
func (t Tod) Add(d Delta) Tod {
	return Tod(int64(t) + int64(d))
}

// Before reports whether t sorts earlier than o.
func (t Tod) Before(o Tod) bool {
	return t < o
}

// After reports whether t sorts later than o.
func (t Tod) After(o Tod) bool {
	return t > o
}

// Seconds returns t as a floating point count of seconds since midnight.
func (t Tod) Seconds() float64 {
	return float64(t) / TicksPerSecond
}

// FromTime converts a wall-clock time.Time into a Tod, discarding its date.
func FromTime(w time.Time) Tod {
	w = w.Local()
	midnight := time.Date(w.Year(), w.Month(), w.Day(), 0, 0, 0, 0, w.Location())
	return Tod(w.Sub(midnight).Nanoseconds() / 100000)
}

// Parse parses a Tod from one of the accepted textual forms: "HH:MM:SS.fff",
// "M:SS.fff", bare seconds, or the sentinels "now" and "0". now supplies the
// value returned for the "now" sentinel.
func Parse(s string, now Tod) (Tod, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0, fmt.Errorf("tod: empty input")
	case "now":
		return now, nil
	case "0":
		return 0, nil
	}

	fields := strings.Split(s, ":")
	if len(fields) > 3 {
		return 0, fmt.Errorf("tod: too many fields in %q", s)
	}

	secTicks, err := parseSecondsField(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("tod: %w", err)
	}

	var minutes, hours int64
	if len(fields) >= 2 {
		minutes, err = strconv.ParseInt(fields[len(fields)-2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("tod: invalid minutes in %q: %w", s, err)
		}
	}
	if len(fields) == 3 {
		hours, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("tod: invalid hours in %q: %w", s, err)
		}
	}

	total := hours*3600*TicksPerSecond + minutes*60*TicksPerSecond + secTicks
	if total < 0 {
		return 0, fmt.Errorf("tod: negative value in %q", s)
	}
	return Tod(total), nil
}

// parseSecondsField parses the least-significant "SS.fff" field, padding or
// truncating the fractional part to exactly 4 digits.
func parseSecondsField(field string) (int64, error) {
	whole := field
	frac := ""
	if i := strings.IndexByte(field, '.'); i >= 0 {
		whole, frac = field[:i], field[i+1:]
	}
	if len(frac) > 4 {
		frac = frac[:4]
	}
	for len(frac) < 4 {
		frac += "0"
	}
	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid seconds %q", field)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid fraction %q", field)
	}
	return wholeVal*TicksPerSecond + fracVal, nil
}

// FormatDC formats t at 10 ms (hundredths of a second) precision, truncating
// toward zero and suppressing leading zero components larger than a minute.
func (t Tod) FormatDC() string {
	return format(int64(t), 2)
}

// FormatDCM formats t at 1 ms precision, truncating toward zero.
func (t Tod) FormatDCM() string {
	return format(int64(t), 3)
}

// FormatDC formats d at hundredths-of-a-second precision, truncating toward
// zero; a negative d carries a leading '-'.
func (d Delta) FormatDC() string {
	return format(int64(d), 2)
}

// FormatDCM formats d at millisecond precision, truncating toward zero; a
// negative d carries a leading '-'.
func (d Delta) FormatDCM() string {
	return format(int64(d), 3)
}

func format(ticks int64, digits int) string {
	neg := ticks < 0
	if neg {
		ticks = -ticks
	}
	totalSec := ticks / TicksPerSecond
	fracTicks := ticks % TicksPerSecond

	// truncate fractional ticks (4 digits wide) down to `digits` digits
	for i := 4; i > digits; i-- {
		fracTicks /= 10
	}

	hours := totalSec / 3600
	minutes := (totalSec % 3600) / 60
	seconds := totalSec % 60

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	switch {
	case hours > 0:
		fmt.Fprintf(&b, "%d:%02d:%02d.%0*d", hours, minutes, seconds, digits, fracTicks)
	case minutes > 0:
		fmt.Fprintf(&b, "%d:%02d.%0*d", minutes, seconds, digits, fracTicks)
	default:
		fmt.Fprintf(&b, "%d.%0*d", seconds, digits, fracTicks)
	}
	return b.String()
}
