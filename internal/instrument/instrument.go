// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes the transport core's Prometheus metrics.
package instrument

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "apexmq"

var (
	framesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_frames_read_total",
		Help:      "Number of frames decoded off the wire",
	})
	framesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_frames_written_total",
		Help:      "Number of frames written to the wire",
	})
	keepAlivesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_keepalives_sent_total",
		Help:      "Number of keep-alive frames sent by the write watchdog",
	})
	inactivityTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_inactivity_trips_total",
		Help:      "Number of links declared dead by the read watchdog",
	})
	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failover_reconnect_attempts_total",
		Help:      "Number of connect attempts made by the failover layer",
	})
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failover_reconnects_total",
		Help:      "Number of successful failover reconnects",
	})
	interruptions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failover_interruptions_total",
		Help:      "Number of transport interruptions observed",
	})
	failedFutures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "correlator_failed_futures_total",
		Help:      "Number of pending requests failed by transport loss",
	})
	backupsReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "failover_backups_ready",
		Help:      "Number of pre-connected backup transports currently held",
	})
)

func init() {
	prometheus.MustRegister(
		framesRead,
		framesWritten,
		keepAlivesSent,
		inactivityTrips,
		reconnectAttempts,
		reconnects,
		interruptions,
		failedFutures,
		backupsReady,
	)
}

func FrameRead()          { framesRead.Inc() }
func FrameWritten()       { framesWritten.Inc() }
func KeepAliveSent()      { keepAlivesSent.Inc() }
func InactivityTrip()     { inactivityTrips.Inc() }
func ReconnectAttempt()   { reconnectAttempts.Inc() }
func Reconnect()          { reconnects.Inc() }
func Interruption()       { interruptions.Inc() }
func FailedFutures(n int) { failedFutures.Add(float64(n)) }
func SetBackupsReady(n int) { backupsReady.Set(float64(n)) }
