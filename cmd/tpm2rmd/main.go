// Copyright 2021 the System Transparency Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tpm2rmd is the resource manager daemon: it loads its configuration,
// opens the access broker, starts the dispatch worker, and listens for
// client connections until told to shut down.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tpm2-software/tpm2rmd/internal/accessbroker"
	"github.com/tpm2-software/tpm2rmd/internal/config"
	"github.com/tpm2-software/tpm2rmd/internal/dispatch"
	"github.com/tpm2-software/tpm2rmd/internal/frontend"
	"github.com/tpm2-software/tpm2rmd/internal/wire"
	"github.com/tpm2-software/tpm2rmd/stlog"
)

var (
	configFile = flag.String("config", "/etc/tpm2rmd.json", "path to the daemon's JSON configuration")
	debug      = flag.Bool("debug", false, "enable debug logging")
	useSyslog  = flag.Bool("syslog", false, "log to the local syslog daemon instead of stderr")
)

func main() {
	flag.Parse()

	if *useSyslog {
		stlog.SetOutput(stlog.Syslog)
	}

	if *debug {
		stlog.SetLevel(stlog.DebugLevel)
	} else {
		stlog.SetLevel(stlog.InfoLevel)
	}

	f, err := os.Open(*configFile)
	if err != nil {
		stlog.Error("tpm2rmd: opening config file: %v", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromJSON(f)
	_ = f.Close()

	if err != nil {
		stlog.Error("tpm2rmd: loading config: %v", err)
		os.Exit(1)
	}

	broker, err := accessbroker.Open(cfg.TPMDevice)
	if err != nil {
		stlog.Error("tpm2rmd: opening access broker: %v", err)
		os.Exit(1)
	}
	defer broker.Close()

	worker := dispatch.NewWorker(broker, cfg.InboundQueueCapacity)
	server := frontend.NewServer(worker, cfg.HandleMapCapacity, cfg.VhandleBase)
	worker.AddSink(server)

	if err := server.Listen(cfg.ListenAddress); err != nil {
		stlog.Error("tpm2rmd: listening on %s: %v", cfg.ListenAddress, err)
		os.Exit(1)
	}

	stlog.Info("tpm2rmd: listening on %s, handle map capacity %d", cfg.ListenAddress, cfg.HandleMapCapacity)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		stlog.Info("tpm2rmd: shutdown requested, draining")
		worker.Enqueue(wire.NewCheckCancel())
	}()

	worker.Run()

	if err := server.Close(); err != nil {
		stlog.Debug("tpm2rmd: closing listener: %v", err)
	}

	stlog.Info("tpm2rmd: shut down")
}
