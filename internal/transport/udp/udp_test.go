/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

func TestListenerDeliversParsedRecords(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 7, 31, 12, 0, 0, 0, time.Local))
	out := make(chan passing.Raw, 8)
	l, err := NewListener("127.0.0.1", 0, clk, func() tod.Tod { return 0 }, out)
	require.NoError(t, err)
	defer l.Close()

	shutdown := make(chan struct{})
	defer close(shutdown)
	go l.Run(shutdown)

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("1;decoder;C1;100000;12:00:01.234\n"))
	require.NoError(t, err)

	select {
	case raw := <-out:
		assert.Equal(t, "C1", raw.Channel)
		assert.Equal(t, int64(100000), raw.Refid)
		assert.Equal(t, tod.Tod((12*3600+1)*tod.TicksPerSecond+2340), raw.RawTod)
	case <-time.After(3 * time.Second):
		t.Fatal("no record delivered")
	}
}

func TestListenerDropsMalformedLinesKeepsRest(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	out := make(chan passing.Raw, 8)
	l, err := NewListener("127.0.0.1", 0, clk, func() tod.Tod { return 0 }, out)
	require.NoError(t, err)
	defer l.Close()

	shutdown := make(chan struct{})
	defer close(shutdown)
	go l.Run(shutdown)

	conn, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("garbage\n2;decoder;C9;100001;5.0\n"))
	require.NoError(t, err)

	select {
	case raw := <-out:
		assert.Equal(t, "C9", raw.Channel)
	case <-time.After(3 * time.Second):
		t.Fatal("no record delivered")
	}
}
