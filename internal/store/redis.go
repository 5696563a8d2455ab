/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

var redisLog = logrus.WithField("component", "store.redis")

// Redis is an alternate Store: it indexes records in a sorted set scored
// by daily index under a per-day key, so the log scales past what an
// in-process slice comfortably holds. Each append pushes the key's expiry
// 25 hours out; queries only ever read the key dayKey names for "now".
type Redis struct {
	client *redis.Client
	keyFn  func() string // returns the current day's sorted-set key

	mu    sync.Mutex
	count int
}

// NewRedis builds a Redis-backed Store against client. dayKey names the
// sorted set for "now"; callers typically close over a Clock so the key
// rolls at local midnight.
func NewRedis(client *redis.Client, dayKey func() string) *Redis {
	return &Redis{client: client, keyFn: dayKey}
}

// storedRecord is the Redis-local encoding of a Record: unlike the public
// wire format (passing.Record.MarshalJSON), it carries the internal Tod and
// split fields a replay query needs, since the sorted set is private state,
// not a published topic.
type storedRecord struct {
	Index      int64          `json:"index"`
	MPID       int            `json:"mpid"`
	Refid      int64          `json:"refid"`
	Time       string         `json:"time"`
	Elap       *string        `json:"elap"`
	Splits     passing.Splits `json:"splits"`
	Moto       *string        `json:"moto"`
	Env        *passing.Env   `json:"env"`
	Text       string         `json:"text"`
	OutOfOrder bool           `json:"ooo"`
	Tod        int64          `json:"tod"`
}

func toStored(rec passing.Record) storedRecord {
	return storedRecord{
		Index: rec.Index, MPID: rec.MPID, Refid: rec.Refid, Time: rec.Time,
		Elap: rec.Elap, Splits: rec.Splits, Moto: rec.Moto, Env: rec.Env,
		Text: rec.Text, OutOfOrder: rec.OutOfOrder, Tod: int64(rec.Tod),
	}
}

func fromStored(s storedRecord) passing.Record {
	return passing.Record{
		Index: s.Index, MPID: s.MPID, Refid: s.Refid, Time: s.Time,
		Elap: s.Elap, Splits: s.Splits, Moto: s.Moto, Env: s.Env,
		Text: s.Text, OutOfOrder: s.OutOfOrder, Tod: tod.Tod(s.Tod),
	}
}

// Append implements Store.
func (r *Redis) Append(rec passing.Record) {
	b, err := json.Marshal(toStored(rec))
	if err != nil {
		redisLog.WithError(err).Error("failed to encode record for replay store")
		return
	}
	key := r.keyFn()
	if err := r.client.ZAdd(key, redis.Z{Score: float64(rec.Index), Member: b}).Err(); err != nil {
		redisLog.WithError(err).Error("failed to append record to replay store")
		return
	}
	r.client.Expire(key, 25*time.Hour)

	r.mu.Lock()
	r.count++
	overflow := r.count - SoftCap
	if overflow > 0 {
		r.count -= overflow
	}
	r.mu.Unlock()
	if overflow > 0 {
		r.client.ZRemRangeByRank(key, 0, int64(overflow-1))
	}
}

// Reset implements Store.
func (r *Redis) Reset() {
	r.client.Del(r.keyFn())
	r.mu.Lock()
	r.count = 0
	r.mu.Unlock()
}

// Len implements Store.
func (r *Redis) Len() int {
	n, err := r.client.ZCard(r.keyFn()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

// Query implements Store. It fetches the index range implied by f (or the
// whole set, if unbounded) and applies the remaining filters client-side,
// the same semantics as Memory.Query.
func (r *Redis) Query(f Filter) []passing.Record {
	min, max := "-inf", "+inf"
	// A marker filter needs every marker record, including those outside
	// the index range, so only a marker-free query narrows the fetch.
	if len(f.Markers) == 0 {
		if f.IndexLo != nil {
			min = fmt.Sprintf("%d", *f.IndexLo)
		}
		if f.IndexHi != nil {
			max = fmt.Sprintf("%d", *f.IndexHi)
		}
	}
	raw, err := r.client.ZRangeByScore(r.keyFn(), redis.ZRangeBy{Min: min, Max: max}).Result()
	if err != nil {
		redisLog.WithError(err).Error("replay query failed")
		return nil
	}

	records := make([]passing.Record, 0, len(raw))
	for _, s := range raw {
		var enc storedRecord
		if err := json.Unmarshal([]byte(s), &enc); err != nil {
			continue
		}
		records = append(records, fromStored(enc))
	}

	var markerIntervals []interval
	if len(f.Markers) > 0 {
		markerIntervals = markerIntervalsFor(records, f.Markers)
	}

	out := make([]passing.Record, 0, len(records))
	for _, rec := range records {
		if !f.matchesRange(rec) {
			continue
		}
		if len(f.Markers) > 0 && !inAnyInterval(markerIntervals, rec.Index) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
