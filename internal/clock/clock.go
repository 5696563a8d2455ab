/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package clock abstracts the host wall clock behind a single capability so
// that fixtures can replay deterministically instead of racing real time.
package clock

import (
	"time"

	"github.com/ndf-zz/velotrain/internal/tod"
)

// Clock is the one seam through which the rest of the module reads wall
// time. Production code uses Real; tests inject a Virtual clock.
type Clock interface {
	Now() time.Time
	Tod() tod.Tod
}

// Real is the production Clock, backed by time.Now.
type Real struct{}

// Now returns the current wall-clock time.
func (Real) Now() time.Time { return time.Now() }

// Tod returns the current time of day.
func (Real) Tod() tod.Tod { return tod.FromTime(time.Now()) }

// Virtual is a Clock fixtures can advance explicitly.
type Virtual struct {
	now time.Time
}

// NewVirtual builds a Virtual clock starting at t.
func NewVirtual(t time.Time) *Virtual {
	return &Virtual{now: t}
}

// Now returns the virtual clock's current time.
func (v *Virtual) Now() time.Time { return v.now }

// Tod returns the virtual clock's current time of day.
func (v *Virtual) Tod() tod.Tod { return tod.FromTime(v.now) }

// Advance moves the virtual clock forward by d.
func (v *Virtual) Advance(d time.Duration) {
	v.now = v.now.Add(d)
}

// Set pins the virtual clock to t.
func (v *Virtual) Set(t time.Time) {
	v.now = t
}
