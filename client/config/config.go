// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config provides the TOML client configuration surface: broker
// endpoints, wire format preferences, and logging, with defaults filled
// in by FixupAndValidate.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/transport/failover"
)

const defaultLogLevel = "info"

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// Level is one of debug, info, warn, error.
	Level string
}

func (c *Logging) validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("config: invalid logging level %q", c.Level)
}

// ParsedLevel returns the charm log level for the configured string.
func (c *Logging) ParsedLevel() log.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Broker names the endpoint(s) to connect to.
type Broker struct {
	// URI is a single endpoint ("tcp://host:port?opts") or a composite
	// failover URI ("failover:(tcp://a,tcp://b)?opts").
	URI string
}

func (b *Broker) validate() error {
	if b.URI == "" {
		return errors.New("config: broker URI is required")
	}
	if strings.HasPrefix(b.URI, "failover:") {
		_, _, err := failover.ParseComposite(b.URI)
		return err
	}
	_, err := failover.ParseURI(b.URI)
	return err
}

// Config is the top level client configuration.
type Config struct {
	Broker  Broker
	Logging *Logging
}

// FixupAndValidate applies defaults and checks the configuration for
// obvious errors.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return c.Broker.validate()
}

// NewTransport builds the failover transport described by the
// configuration. A plain endpoint URI becomes a single-candidate
// failover transport.
func (c *Config) NewTransport() (*failover.FailoverTransport, error) {
	uri := c.Broker.URI
	if !strings.HasPrefix(uri, "failover:") {
		uri = "failover:(" + uri + ")"
	}
	return failover.NewFromURI(uri)
}

// Load parses and validates a configuration from b.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: undecoded keys in config: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses, and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
