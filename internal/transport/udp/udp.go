/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package udp listens for raw decoder datagrams and feeds them to the
// engine's raw input channel. The wire format is the same semicolon text
// record the control plane's timer topic accepts, one record per line; a
// datagram may carry several lines.
package udp

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/intake"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/tod"
)

var log = logrus.WithField("component", "transport.udp")

// readDeadline keeps each blocking read short enough for Run to notice a
// shutdown promptly.
const readDeadline = 1 * time.Second

// Listener receives decoder datagrams on a bound UDP socket.
type Listener struct {
	conn     *net.UDPConn
	clk      clock.Clock
	boundary func() tod.Tod
	out      chan<- passing.Raw
}

// NewListener binds addr:port. boundary supplies the value of the "0" time
// sentinel (the most recent top-of-minute). An empty addr binds every local
// interface.
func NewListener(addr string, port int, clk clock.Clock, boundary func() tod.Tod, out chan<- passing.Raw) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(addr), Port: port})
	if err != nil {
		return nil, fmt.Errorf("udp: bind %s:%d: %w", addr, port, err)
	}
	log.WithField("addr", conn.LocalAddr().String()).Info("listening for decoder datagrams")
	return &Listener{conn: conn, clk: clk, boundary: boundary, out: out}, nil
}

// LocalAddr returns the bound socket address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Run reads datagrams until shutdown is closed. Malformed records are
// logged and dropped without affecting the rest of the datagram.
func (l *Listener) Run(shutdown <-chan struct{}) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			log.WithError(err).Warn("datagram read failed")
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			l.handleLine(line)
		}
	}
}

func (l *Listener) handleLine(line string) {
	_, _, channel, refid, t, err := intake.ParseForeignTimer(line, l.clk.Tod(), l.boundary())
	if err != nil {
		log.WithError(err).Debug("dropping malformed datagram record")
		return
	}
	raw := passing.Raw{
		Channel: channel,
		Refid:   refid,
		RawTod:  t,
		RecvTod: l.clk.Tod(),
	}
	select {
	case l.out <- raw:
	default:
		log.Warn("raw input channel full, dropping datagram record")
	}
}

// Close releases the socket.
func (l *Listener) Close() error { return l.conn.Close() }
