package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// Config holds the settings for both subcommands. A config file is
// optional: defaults cover a single-host setup and flags override
// individual values.
type Config struct {
	configFile string

	Tracker struct {
		ListenAddress    string `json:"listen_address"`
		PeerTimeoutSec   int    `json:"peer_timeout_sec"`
		SweepIntervalSec int    `json:"sweep_interval_sec"`
	} `json:"tracker"`

	Chat struct {
		PeerID               string `json:"peer_id"`
		ListenPort           int    `json:"listen_port"`
		TrackerAddress       string `json:"tracker_address"`
		HeartbeatIntervalSec int    `json:"heartbeat_interval_sec"`
		HistoryPath          string `json:"history_path"`
	} `json:"chat"`
}

// NewDefaultConfig generates a new configuration with default settings
func NewDefaultConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Tracker.ListenAddress = ":5000"
	cfg.Tracker.PeerTimeoutSec = 300
	cfg.Tracker.SweepIntervalSec = 60

	cfg.Chat.ListenPort = 6000
	cfg.Chat.TrackerAddress = "127.0.0.1:5000"
	cfg.Chat.HeartbeatIntervalSec = 60

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewDefaultConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) PeerTimeout() time.Duration {
	return time.Duration(c.Tracker.PeerTimeoutSec) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Tracker.SweepIntervalSec) * time.Second
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Chat.HeartbeatIntervalSec) * time.Second
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	return nil
}
