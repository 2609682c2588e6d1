// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValid(t *testing.T) {
	cfg, err := Load([]byte(`
[Broker]
URI = "failover:(tcp://broker-a:61616,tcp://broker-b:61616)?randomize=false"

[Logging]
Level = "debug"
`))
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, cfg.Logging.ParsedLevel())

	tr, err := cfg.NewTransport()
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestLoadDefaultsLogging(t *testing.T) {
	cfg, err := Load([]byte(`
[Broker]
URI = "tcp://broker:61616"
`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)

	// A plain endpoint becomes a single candidate failover transport.
	tr, err := cfg.NewTransport()
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestLoadRejectsMissingBroker(t *testing.T) {
	_, err := Load([]byte(`
[Logging]
Level = "info"
`))
	require.Error(t, err)
}

func TestLoadRejectsBadURI(t *testing.T) {
	_, err := Load([]byte(`
[Broker]
URI = "stomp://nope:61613"
`))
	require.Error(t, err)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	_, err := Load([]byte(`
[Broker]
URI = "tcp://broker:61616"

[Logging]
Level = "loud"
`))
	require.Error(t, err)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load([]byte(`
[Broker]
URI = "tcp://broker:61616"
Bogus = true
`))
	require.Error(t, err)
}
