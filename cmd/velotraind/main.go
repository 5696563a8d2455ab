/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Command velotraind runs the track-cycling timing filter daemon described
// in the top-level design: it wires the track model, decoder sessions,
// reorder buffer, rider tracker, moto annotator and control plane into the
// cooperative event loop in internal/engine, consuming and publishing the
// Kafka topics named by the configured basetopic.
package main

import (
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/ndf-zz/velotrain/internal/alert"
	"github.com/ndf-zz/velotrain/internal/clock"
	"github.com/ndf-zz/velotrain/internal/config"
	"github.com/ndf-zz/velotrain/internal/control"
	"github.com/ndf-zz/velotrain/internal/engine"
	"github.com/ndf-zz/velotrain/internal/intake"
	"github.com/ndf-zz/velotrain/internal/metrics"
	"github.com/ndf-zz/velotrain/internal/moto"
	"github.com/ndf-zz/velotrain/internal/reorder"
	"github.com/ndf-zz/velotrain/internal/rider"
	"github.com/ndf-zz/velotrain/internal/session"
	"github.com/ndf-zz/velotrain/internal/store"
	"github.com/ndf-zz/velotrain/internal/tod"
	"github.com/ndf-zz/velotrain/internal/track"
	"github.com/ndf-zz/velotrain/internal/transport/kafka"
	"github.com/ndf-zz/velotrain/internal/transport/udp"
)

var log = logrus.WithField("component", "main")

func main() {
	configPath := flag.String("config", "", "path to velotrain.yaml")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	model, err := buildTrackModel(cfg)
	if err != nil {
		log.WithError(err).Fatal("invalid track configuration")
	}

	clk := clock.Real{}
	sessions := session.NewTable(model.MPSeq(), cfg.Sync)
	sessions.SetPassLevel(float64(cfg.PassLevel))
	buf := reorder.New(reorder.DefaultWindow, reorder.DefaultCapacity)
	tracker := rider.NewTracker(model)
	motoAnn := moto.New(cfg.Moto)
	mreg := metrics.New()

	var replayLog store.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		replayLog = store.NewRedis(client, func() string {
			return "velotrain:replay:" + clk.Now().Format("2006-01-02")
		})
	} else {
		replayLog = store.NewMemory()
	}

	var alerts *alert.Dispatcher
	if cfg.AlertURL != "" {
		alerts = alert.New(cfg.AlertURL, 3, 100, 2000)
	}

	ctl := control.New(clk, []byte(cfg.AuthKey), buf, tracker, sessions, replayLog, alerts)

	topics := kafka.NewTopics(cfg.BaseTopic)
	sink, err := kafka.NewSink(cfg.KafkaBrokers, topics)
	if err != nil {
		log.WithError(err).Fatal("failed to start kafka producer")
	}
	defer sink.Close()

	eng := engine.New(clk, model, sessions, buf, tracker, motoAnn, ctl, alerts, mreg, sink)

	cohort := cohortRefids(cfg)
	var trig int64 = 255
	if n, err := strconv.ParseInt(cfg.Trig, 10, 64); err == nil {
		trig = n
	}
	gate := intake.Gate{Src: cfg.GateSrc, Delay: tod.DeltaFromSeconds(cfg.GateDelay)}
	if n, err := strconv.ParseInt(cfg.Gate, 10, 64); err == nil {
		gate.Refid = n
	}
	dispatch := intake.New(clk, sessions, model, trig, gate, cohort, mreg, eng.IntakeSink())

	sub, err := kafka.NewSubscriber(cfg.BaseTopic+"-velotraind", zkConnect(cfg), topics, eng.Control)
	if err != nil {
		log.WithError(err).Fatal("failed to start kafka consumer group")
	}
	defer sub.Close()
	go sub.Run(eng.Shutdown)

	if cfg.UPort != 0 {
		listener, err := udp.NewListener(cfg.UAddr, cfg.UPort, clk, sessions.MinuteBoundary, eng.Raw)
		if err != nil {
			log.WithError(err).Fatal("failed to bind raw input socket")
		}
		defer listener.Close()
		go listener.Run(eng.Shutdown)
	}

	config.Watch(v, func(nc *config.Config) {
		sessions.SetPassLevel(float64(nc.PassLevel))
		eng.Control <- engine.ControlMsg{Kind: engine.CtlRetune, Moto: nc.Moto}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown requested")
		close(eng.Shutdown)
	}()

	go func() {
		if err := <-eng.Death; err != nil {
			log.WithError(err).Fatal("fatal event loop error")
		}
	}()

	eng.Run(dispatch)
	log.Info("velotraind exiting")
}

func buildTrackModel(cfg *config.Config) (*track.Model, error) {
	mpCfg := make(map[string]track.Config, len(cfg.MPs))
	for ch, mp := range cfg.MPs {
		mpCfg[ch] = track.Config{
			Name: mp.Name, OffsetM: mp.Offset,
			Half: mp.Half, Qtr: mp.Qtr, P200: mp.P200, P100: mp.P100, P50: mp.P50,
		}
	}
	return track.New(cfg.LapLen, cfg.MPSeq, mpCfg, cfg.MinSpeed, cfg.MaxSpeed, cfg.MinGate, cfg.MaxGate)
}

func cohortRefids(cfg *config.Config) []int64 {
	cohort := append([]int64(nil), cfg.Moto...)
	if cfg.Gate != "" {
		if v, err := strconv.ParseInt(cfg.Gate, 10, 64); err == nil {
			cohort = append(cohort, v)
		}
	}
	return cohort
}

func zkConnect(cfg *config.Config) string {
	out := ""
	for i, n := range cfg.ZKNodes {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
