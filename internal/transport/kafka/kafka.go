/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package kafka wires the daemon's external message topics onto a Kafka
// broker: a sarama producer for the published topics, and a
// wvanbergen/kafka consumergroup (backed by kazoo-go against Zookeeper)
// for the subscribed ones.
package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"
	"github.com/wvanbergen/kafka/consumergroup"
	kazoo "github.com/wvanbergen/kazoo-go"

	"github.com/ndf-zz/velotrain/internal/engine"
	"github.com/ndf-zz/velotrain/internal/passing"
	"github.com/ndf-zz/velotrain/internal/status"
	"github.com/ndf-zz/velotrain/internal/store"
	"github.com/ndf-zz/velotrain/internal/tod"
)

var log = logrus.WithField("component", "transport.kafka")

// Topics holds the basetopic-relative topic names the daemon speaks.
type Topics struct {
	Passing   string
	RawPass   string
	Status    string
	Replay    string
	Request   string
	Marker    string
	Reset     string
	Timer     string
	ResetUnit string
}

// NewTopics derives the topic names from a configured basetopic.
func NewTopics(basetopic string) Topics {
	p := basetopic
	return Topics{
		Passing:   p + "/passing",
		RawPass:   p + "/rawpass",
		Status:    p + "/status",
		Replay:    p + "/replay",
		Request:   p + "/request",
		Marker:    p + "/marker",
		Reset:     p + "/reset",
		Timer:     p + "/timer",
		ResetUnit: p + "/resetunit",
	}
}

// Sink implements engine.Sink over a sarama.SyncProducer.
type Sink struct {
	producer sarama.SyncProducer
	topics   Topics
}

// NewSink builds a producer-backed Sink against the given broker list.
func NewSink(brokers []string, topics Topics) (*Sink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: new producer: %w", err)
	}
	return &Sink{producer: producer, topics: topics}, nil
}

func (s *Sink) publish(topic string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("topic", topic).Error("failed to encode outbound message")
		return
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		log.WithError(err).WithField("topic", topic).Error("failed to publish message")
	}
}

// PublishRaw implements engine.Sink.
func (s *Sink) PublishRaw(raw passing.Raw) { s.publish(s.topics.RawPass, raw) }

// PublishPassing implements engine.Sink.
func (s *Sink) PublishPassing(rec passing.Record) { s.publish(s.topics.Passing, rec) }

// PublishStatus implements engine.Sink.
func (s *Sink) PublishStatus(snap status.Snapshot) { s.publish(s.topics.Status, snap) }

// PublishReplay implements engine.Sink. A request that carried a serial gets
// its reply on /replay/<serial>; one without gets the shared /replay topic.
func (s *Sink) PublishReplay(serial string, records []passing.Record) {
	topic := s.topics.Replay
	if serial != "" {
		topic += "/" + serial
	}
	s.publish(topic, records)
}

// Close shuts down the underlying producer.
func (s *Sink) Close() error { return s.producer.Close() }

var _ engine.Sink = (*Sink)(nil)

// Subscriber consumes the subscribed control-plane topics via a
// wvanbergen/kafka consumergroup against Zookeeper, translating each
// message into an engine.ControlMsg.
type Subscriber struct {
	consumer *consumergroup.ConsumerGroup
	topics   Topics
	out      chan<- engine.ControlMsg
}

// NewSubscriber joins the consumer group named group against zkConnect, a
// Zookeeper connection string with optional chroot, and forwards every
// message on Topics.Marker/Reset/Timer/ResetUnit/Request to out.
func NewSubscriber(group string, zkConnect string, topics Topics, out chan<- engine.ControlMsg) (*Subscriber, error) {
	cgConfig := consumergroup.NewConfig()
	cgConfig.Offsets.Initial = sarama.OffsetNewest
	cgConfig.Offsets.ProcessingTimeout = 10 * time.Second

	zkNodes, chroot := kazoo.ParseConnectionString(zkConnect)
	cgConfig.Zookeeper.Chroot = chroot

	topicList := []string{topics.Marker, topics.Reset, topics.Timer, topics.ResetUnit, topics.Request}
	consumer, err := consumergroup.JoinConsumerGroup(group, topicList, zkNodes, cgConfig)
	if err != nil {
		return nil, fmt.Errorf("kafka: join consumer group: %w", err)
	}
	return &Subscriber{consumer: consumer, topics: topics, out: out}, nil
}

// Run pumps consumer messages into the engine's Control channel until
// shutdown is closed.
func (s *Subscriber) Run(shutdown <-chan struct{}) {
	for {
		select {
		case <-shutdown:
			return
		case err := <-s.consumer.Errors():
			log.WithError(err).Warn("consumer group error")
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				return
			}
			s.dispatch(msg)
			s.consumer.CommitUpto(msg)
		}
	}
}

func (s *Subscriber) dispatch(msg *sarama.ConsumerMessage) {
	text := string(msg.Value)
	switch msg.Topic {
	case s.topics.Marker:
		s.out <- engine.ControlMsg{Kind: engine.CtlMarker, Payload: text}
	case s.topics.Reset:
		s.out <- engine.ControlMsg{Kind: engine.CtlReset, Payload: text}
	case s.topics.Timer:
		s.out <- engine.ControlMsg{Kind: engine.CtlForeignTimer, Payload: text}
	case s.topics.ResetUnit:
		s.out <- engine.ControlMsg{Kind: engine.CtlResetUnit, Payload: strings.TrimSpace(text)}
	case s.topics.Request:
		serial, filter, err := parseRequest(text)
		if err != nil {
			log.WithError(err).Warn("dropping malformed /request filter")
			return
		}
		s.out <- engine.ControlMsg{Kind: engine.CtlReplay, Filter: filter, Serial: serial}
	}
}

// requestFilter mirrors the /request JSON payload: an optional serial naming
// the reply topic, plus index/time ranges and mpid/refid/marker sets.
type requestFilter struct {
	Serial string     `json:"serial"`
	Index  *[2]int64  `json:"index"`
	Time   *[2]string `json:"time"`
	MPID   []int      `json:"mpid"`
	Refid  []int64    `json:"refid"`
	Marker []string   `json:"marker"`
}

func parseRequest(text string) (string, store.Filter, error) {
	var rf requestFilter
	if err := json.Unmarshal([]byte(text), &rf); err != nil {
		return "", store.Filter{}, fmt.Errorf("kafka: invalid /request payload: %w", err)
	}
	f := store.Filter{MPIDs: rf.MPID, Refids: rf.Refid, Markers: rf.Marker}
	if rf.Index != nil {
		lo, hi := rf.Index[0], rf.Index[1]
		f.IndexLo, f.IndexHi = &lo, &hi
	}
	if rf.Time != nil {
		lo, err := tod.Parse(rf.Time[0], 0)
		if err != nil {
			return "", store.Filter{}, fmt.Errorf("kafka: invalid /request time range: %w", err)
		}
		hi, err := tod.Parse(rf.Time[1], 0)
		if err != nil {
			return "", store.Filter{}, fmt.Errorf("kafka: invalid /request time range: %w", err)
		}
		f.TodLo, f.TodHi = &lo, &hi
	}
	return rf.Serial, f, nil
}

// Close leaves the consumer group.
func (s *Subscriber) Close() error { return s.consumer.Close() }
