// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

// apexprobe dials a broker, performs the wire format handshake, and
// reports the wire format the broker proposed. With -keepalive it stays
// connected and lets the inactivity watchdogs exchange keep-alives until
// interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/log"

	"github.com/apexmq/apexmq/client/config"
	"github.com/apexmq/apexmq/core/wire/commands"
)

type probeListener struct {
	log *log.Logger
}

func (p *probeListener) OnCommand(cmd commands.Command) {
	switch c := cmd.(type) {
	case *commands.WireFormatInfo:
		p.log.Infof("Broker wire format proposal: version %d, tight %v, stack traces %v, inactivity %dms",
			c.Version, c.TightEncodingEnabled, c.StackTraceEnabled, c.MaxInactivityDuration)
	case *commands.BrokerInfo:
		p.log.Infof("Broker: %s (%s)", c.BrokerName, c.BrokerURL)
	default:
		p.log.Debugf("Received %T", cmd)
	}
}

func (p *probeListener) OnException(err error) {
	p.log.Errorf("Transport error: %v", err)
}

func (p *probeListener) TransportInterrupted() {
	p.log.Warn("Transport interrupted")
}

func (p *probeListener) TransportResumed() {
	p.log.Info("Transport resumed")
}

func main() {
	cfgFile := flag.String("f", "", "Path to the configuration file")
	uri := flag.String("uri", "", "Broker URI (overrides the configuration file)")
	keepAlive := flag.Bool("keepalive", false, "Stay connected and exchange keep-alives")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("apexprobe %s\n", versioninfo.Short())
		return
	}

	cfg := &config.Config{Broker: config.Broker{URI: *uri}}
	if *cfgFile != "" {
		var err error
		cfg, err = config.LoadFile(*cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		if *uri != "" {
			cfg.Broker.URI = *uri
		}
	}
	if err := cfg.FixupAndValidate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "apexprobe",
		ReportTimestamp: true,
		Level:           cfg.Logging.ParsedLevel(),
	})

	t, err := cfg.NewTransport()
	if err != nil {
		logger.Fatalf("Bad broker URI: %v", err)
	}
	t.SetListener(&probeListener{log: logger})
	if err := t.Start(); err != nil {
		logger.Fatalf("Failed to start transport: %v", err)
	}
	defer t.Close()

	// Drive one round trip so a broken endpoint surfaces promptly.
	connID := fmt.Sprintf("apexprobe-%d", time.Now().UnixNano())
	info := &commands.ConnectionInfo{
		ConnectionID: &commands.ConnectionID{Value: connID},
		ClientID:     connID,
	}
	if _, err := t.RequestTimeout(info, 30*time.Second); err != nil {
		logger.Errorf("Broker rejected connection: %v", err)
		os.Exit(1)
	}
	logger.Info("Broker accepted connection")

	if !*keepAlive {
		remove := &commands.RemoveInfo{ObjectID: info.ConnectionID}
		if err := t.Oneway(remove); err != nil {
			logger.Warnf("Failed to remove connection: %v", err)
		}
		if err := t.Oneway(&commands.ShutdownInfo{}); err != nil {
			logger.Warnf("Failed to send shutdown: %v", err)
		}
		return
	}

	logger.Info("Holding the connection open; interrupt to exit")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
