/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Command veloctl is an operator CLI for the control-plane topics: insert a
// marker, issue a reset, reset a single unit, post a foreign-timer record,
// or request a replay, against a running velotraind.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated kafka broker list")
	basetopic := flag.String("basetopic", "velotrain", "daemon basetopic")
	cmd := flag.String("cmd", "", "one of: marker, reset, resetunit, timer, request")
	arg := flag.String("arg", "", "payload for the chosen command")
	flag.Parse()

	if *cmd == "" {
		fmt.Fprintln(os.Stderr, "usage: veloctl -cmd <marker|reset|resetunit|timer|request> -arg <payload>")
		os.Exit(2)
	}

	topic, payload, err := resolve(*basetopic, *cmd, *arg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "veloctl:", err)
		os.Exit(1)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(strings.Split(*brokers, ","), cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "veloctl: connecting to kafka:", err)
		os.Exit(1)
	}
	defer producer.Close()

	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "veloctl: publish failed:", err)
		os.Exit(1)
	}
}

func resolve(basetopic, cmd, arg string) (topic string, payload []byte, err error) {
	switch cmd {
	case "marker":
		return basetopic + "/marker", []byte(arg), nil
	case "reset":
		return basetopic + "/reset", []byte(arg), nil
	case "resetunit":
		return basetopic + "/resetunit", []byte(arg), nil
	case "timer":
		return basetopic + "/timer", []byte(arg), nil
	case "request":
		payload, err = requestPayload(arg)
		return basetopic + "/request", payload, err
	default:
		return "", nil, fmt.Errorf("unknown command %q", cmd)
	}
}

// requestPayload takes a /request JSON filter (or an empty string for
// "everything") and ensures it carries a serial, so the reply lands on a
// topic only this requester watches. The serial is printed for the caller
// to subscribe to.
func requestPayload(arg string) ([]byte, error) {
	filter := map[string]interface{}{}
	if arg != "" {
		if err := json.Unmarshal([]byte(arg), &filter); err != nil {
			return nil, fmt.Errorf("invalid request filter: %w", err)
		}
	}
	if _, ok := filter["serial"]; !ok {
		filter["serial"] = uuid.New().String()
	}
	fmt.Println("replay topic suffix:", filter["serial"])
	return json.Marshal(filter)
}
