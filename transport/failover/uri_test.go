// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	u, err := ParseURI("tcp://broker-1:61616?tcpNoDelay=false&trace=1")
	require.NoError(t, err)
	assert.Equal(t, "tcp", u.Scheme)
	assert.Equal(t, "broker-1", u.Host)
	assert.Equal(t, "61616", u.Port)
	assert.Equal(t, "broker-1:61616", u.Address())
	assert.Equal(t, "false", u.Options["tcpNoDelay"])
	assert.Equal(t, "1", u.Options["trace"])

	u, err = ParseURI("tcp://10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "61616", u.Port)

	_, err = ParseURI("stomp://broker:61613")
	require.Error(t, err)

	_, err = ParseURI("tcp://")
	require.Error(t, err)
}

func TestParseComposite(t *testing.T) {
	uris, opts, err := ParseComposite(
		"failover:(tcp://a:61616,tcp://b:61617?trace=1)?randomize=false&maxReconnectAttempts=5")
	require.NoError(t, err)
	require.Len(t, uris, 2)
	assert.Equal(t, "a", uris[0].Host)
	assert.Equal(t, "b", uris[1].Host)
	assert.Equal(t, "1", uris[1].Options["trace"])
	assert.Equal(t, "false", opts["randomize"])
	assert.Equal(t, "5", opts["maxReconnectAttempts"])

	uris, opts, err = ParseComposite("failover:tcp://a:61616,tcp://b:61617")
	require.NoError(t, err)
	assert.Len(t, uris, 2)
	assert.Empty(t, opts)

	_, _, err = ParseComposite("tcp://a:61616")
	require.Error(t, err)

	_, _, err = ParseComposite("failover:()")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]string{
		"initialReconnectDelay": "100",
		"maxReconnectDelay":     "5000",
		"backOffMultiplier":     "1.5",
		"useExponentialBackOff": "false",
		"maxReconnectAttempts":  "7",
		"randomize":             "1",
		"backup":                "true",
		"backupPoolSize":        "2",
		"trackMessages":         "true",
		"maxCacheSize":          "64",
		"timeout":               "2500",
		"priorityBackup":        "true",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 100, cfg.InitialReconnectDelay.Milliseconds())
	assert.EqualValues(t, 5000, cfg.MaxReconnectDelay.Milliseconds())
	assert.Equal(t, 1.5, cfg.BackOffMultiplier)
	assert.False(t, cfg.UseExponentialBackOff)
	assert.Equal(t, 7, cfg.MaxReconnectAttempts)
	assert.True(t, cfg.Randomize)
	assert.True(t, cfg.Backup)
	assert.Equal(t, 2, cfg.BackupPoolSize)
	assert.True(t, cfg.TrackMessages)
	assert.Equal(t, 64, cfg.MaxCacheSize)
	assert.EqualValues(t, 2500, cfg.Timeout.Milliseconds())
	assert.True(t, cfg.PriorityBackup)

	_, err = ParseConfig(map[string]string{"backup": "maybe"})
	require.Error(t, err)
}

func TestURIPoolCheckout(t *testing.T) {
	pool := NewURIPool(mustURIs(t, "tcp://a:1", "tcp://b:1", "tcp://c:1"))
	assert.Equal(t, 3, pool.Len())

	u1, ok := pool.GetURI()
	require.True(t, ok)
	assert.Equal(t, "a", u1.Host)
	assert.False(t, pool.Contains(u1))

	u2, _ := pool.GetURI()
	u3, _ := pool.GetURI()
	_, ok = pool.GetURI()
	assert.False(t, ok)

	pool.AddURI(u2)
	pool.AddURI(u2) // duplicates dropped
	assert.Equal(t, 1, pool.Len())

	pool.AddURIs([]*URI{u1, u3})
	assert.Equal(t, 3, pool.Len())

	pool.RemoveURI(u3)
	assert.False(t, pool.Contains(u3))
	assert.Equal(t, 2, pool.Len())
}

func TestURIPoolRandomizeStillDrains(t *testing.T) {
	pool := NewURIPool(mustURIs(t, "tcp://a:1", "tcp://b:1", "tcp://c:1"))
	pool.SetRandomize(true)
	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		u, ok := pool.GetURI()
		require.True(t, ok)
		seen[u.Host] = true
	}
	assert.Len(t, seen, 3)
	_, ok := pool.GetURI()
	assert.False(t, ok)
}
