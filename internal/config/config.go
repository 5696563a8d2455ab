/*-
 * Copyright © 2016-2017, Jörg Pernfuß <code.jpe@gmail.com>
 * Copyright © 2016, 1&1 Internet SE
 * All rights reserved.
 *
 * Use of this source code is governed by a 2-clause BSD license
 * that can be found in the LICENSE file.
 */

// Package config loads the daemon's runtime configuration with Viper:
// defaults set first, then an optional file, then environment variables,
// unmarshaled into a typed struct. Hot reload is wired through Viper's
// fsnotify-backed WatchConfig.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var log = logrus.WithField("component", "config")

// MPConfig is one entry of the `mps` map: per-channel measurement point
// configuration.
type MPConfig struct {
	Name   string  `mapstructure:"name"`
	IP     string  `mapstructure:"ip"`
	Offset float64 `mapstructure:"offset"`
	Half   string  `mapstructure:"half"`
	Qtr    string  `mapstructure:"qtr"`
	P200   string  `mapstructure:"200"`
	P100   string  `mapstructure:"100"`
	P50    string  `mapstructure:"50"`
}

// Config holds every recognized configuration key.
type Config struct {
	AuthKey     string              `mapstructure:"authkey"`
	Gate        string              `mapstructure:"gate"`
	GateDelay   float64             `mapstructure:"gatedelay"`
	GateSrc     string              `mapstructure:"gatesrc"`
	LapLen      float64             `mapstructure:"laplen"`
	MaxSpeed    float64             `mapstructure:"maxspeed"`
	MinSpeed    float64             `mapstructure:"minspeed"`
	Moto        []int64             `mapstructure:"moto"`
	Trig        string              `mapstructure:"trig"`
	PassLevel   int                 `mapstructure:"passlevel"`
	UAddr       string              `mapstructure:"uaddr"`
	UPort       int                 `mapstructure:"uport"`
	BCast       string              `mapstructure:"bcast"`
	BaseTopic   string              `mapstructure:"basetopic"`
	Sync        string              `mapstructure:"sync"`
	MinGate     float64             `mapstructure:"mingate"`
	MaxGate     float64             `mapstructure:"maxgate"`
	DHI         string              `mapstructure:"dhi"`
	DHIEncoding string              `mapstructure:"dhiencoding"`
	MPSeq       []string            `mapstructure:"mpseq"`
	MPs         map[string]MPConfig `mapstructure:"mps"`

	// Deployment wiring: alarm webhook, replay cache and broker
	// endpoints.
	AlertURL     string   `mapstructure:"alerturl"`
	RedisAddr    string   `mapstructure:"redisaddr"`
	KafkaBrokers []string `mapstructure:"kafkabrokers"`
	ZKNodes      []string `mapstructure:"zknodes"`
}

// Load reads configuration from built-in defaults, an optional file, and
// environment variables, in that order of increasing priority. The
// returned Viper handle feeds Watch for hot reload.
func Load(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("velotrain")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/velotrain")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Info("no config file found, using defaults and environment variables")
		} else {
			return nil, nil, fmt.Errorf("config: reading config file: %w", err)
		}
	} else {
		log.WithField("file", v.ConfigFileUsed()).Info("loaded config file")
	}

	v.SetEnvPrefix("VELOTRAIN")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Viper lower-cases map keys; channel ids are upper-case ("C1".."C9").
	if len(cfg.MPs) > 0 {
		mps := make(map[string]MPConfig, len(cfg.MPs))
		for ch, mp := range cfg.MPs {
			mps[strings.ToUpper(ch)] = mp
		}
		cfg.MPs = mps
	}
	return &cfg, v, nil
}

// Watch installs a hot-reload callback invoked whenever the active config
// file changes on disk, via Viper's fsnotify-backed watcher.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			log.WithError(err).Warn("config reload failed, keeping previous configuration")
			return
		}
		log.Info("configuration reloaded")
		onChange(&cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gatedelay", 0.075)
	v.SetDefault("laplen", 250.0)
	v.SetDefault("maxspeed", 90.0)
	v.SetDefault("minspeed", 38.0)
	v.SetDefault("moto", []int64{})
	v.SetDefault("trig", "255")
	v.SetDefault("passlevel", 40)
	v.SetDefault("uport", 2008)
	v.SetDefault("basetopic", "velotrain")
	v.SetDefault("mingate", 9.0)
	v.SetDefault("maxgate", 22.5)
	v.SetDefault("dhiencoding", "utf-8")
	v.SetDefault("mpseq", []string{"C1", "C9", "C4", "C6", "C3", "C5", "C7", "C8", "C2"})
}
