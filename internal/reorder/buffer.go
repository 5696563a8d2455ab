/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package reorder implements the bounded-latency reorder buffer: a binary
// heap keyed by corrected time-of-day, carrying each entry's arrival wall
// time so a periodic tick can release events once they are older than the
// reorder window.
package reorder

import (
	"container/heap"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

// DefaultWindow is the default reorder window W.
const DefaultWindow = 3 * time.Second

// DefaultCapacity bounds the number of pending entries.
const DefaultCapacity = 1024

var log = logrus.WithField("component", "reorder")

type entry struct {
	cp      passing.Corrected
	arrival time.Time
	seq     uint64
}

// heapSlice orders entries by corrected tod ascending, breaking ties by
// mpid ascending then arrival order.
type heapSlice []*entry

func (h heapSlice) Len() int { return len(h) }
func (h heapSlice) Less(i, j int) bool {
	if h[i].cp.Tod != h[j].cp.Tod {
		return h[i].cp.Tod < h[j].cp.Tod
	}
	if h[i].cp.MPID != h[j].cp.MPID {
		return h[i].cp.MPID < h[j].cp.MPID
	}
	return h[i].seq < h[j].seq
}
func (h heapSlice) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *heapSlice) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *heapSlice) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Buffer is the bounded-latency reorder buffer.
type Buffer struct {
	h        heapSlice
	window   time.Duration
	capacity int
	nextSeq  uint64

	overflowed bool // sticky until backlog drops below half capacity
}

// New builds a Buffer with the given release window and capacity.
func New(window time.Duration, capacity int) *Buffer {
	b := &Buffer{window: window, capacity: capacity}
	heap.Init(&b.h)
	return b
}

// Push enqueues a corrected passing arriving at wall time now. If the
// passing's corrected tod already lies before now-W, it is returned
// immediately with OutOfOrder set instead of being queued. If the buffer
// is at capacity, the oldest-arrival pending entry is dropped and
// Overflowed() begins reporting true until the backlog halves.
func (b *Buffer) Push(cp passing.Corrected, now time.Time) (late *passing.Corrected) {
	cutoff := tod.FromTime(now.Add(-b.window))
	if cp.Tod < cutoff {
		cp.OutOfOrder = true
		log.WithFields(logrus.Fields{"mpid": cp.MPID, "refid": cp.Refid}).
			Debug("late-late event released immediately")
		return &cp
	}

	if len(b.h) >= b.capacity {
		b.evictOldestArrival()
		b.overflowed = true
		log.Warn("reorder buffer overflow, dropped oldest-arrival entry")
	}

	heap.Push(&b.h, &entry{cp: cp, arrival: now, seq: b.nextSeq})
	b.nextSeq++
	return nil
}

func (b *Buffer) evictOldestArrival() {
	if len(b.h) == 0 {
		return
	}
	oldest := 0
	for i := 1; i < len(b.h); i++ {
		if b.h[i].seq < b.h[oldest].seq {
			oldest = i
		}
	}
	heap.Remove(&b.h, oldest)
}

// Release pops every entry whose corrected tod is at most now-W, in
// nondecreasing key order, and clears the sticky overflow flag once the
// backlog has dropped below half capacity.
func (b *Buffer) Release(now time.Time) []passing.Corrected {
	cutoff := tod.FromTime(now.Add(-b.window))
	var out []passing.Corrected
	for len(b.h) > 0 && b.h[0].cp.Tod <= cutoff {
		e := heap.Pop(&b.h).(*entry)
		out = append(out, e.cp)
	}
	if b.overflowed && len(b.h) < b.capacity/2 {
		b.overflowed = false
	}
	return out
}

// Len reports the number of entries currently pending.
func (b *Buffer) Len() int { return len(b.h) }

// Overflowed reports whether the buffer is in the sticky overflow state
// raised since the last time the backlog dropped below half capacity.
func (b *Buffer) Overflowed() bool { return b.overflowed }

// Drain removes every pending entry for the given channel, discarding them
// without releasing them downstream.
func (b *Buffer) Drain(channel string) {
	kept := b.h[:0]
	for _, e := range b.h {
		if e.cp.Channel == channel {
			continue
		}
		kept = append(kept, e)
	}
	b.h = kept
	heap.Init(&b.h)
}

// DrainAll removes every pending entry, discarding them.
func (b *Buffer) DrainAll() {
	b.h = b.h[:0]
}
