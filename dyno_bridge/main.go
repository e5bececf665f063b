package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dyno-bridge-core/utils"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML configuration file")
		iface    = flag.String("iface", "", "SocketCAN interface name (overrides config)")
		scheme   = flag.String("scheme", "", "frame scheme: compact|extended (overrides config)")
		port     = flag.String("port", "", "serial port for the host link; empty uses stdin/stdout")
		monAddr  = flag.String("monitor", "", "monitor listen address, e.g. :8080")
		broker   = flag.String("mqtt", "", "MQTT broker URL, e.g. mqtt://host:1883/dyno")
		seqPath  = flag.String("sequence", "", "test sequence JSON to play at startup")
		console  = flag.Bool("console", false, "run the interactive bench console as the host")
		logLevel = flag.String("log", "", "trace|debug|info|warn|error|critical")
	)
	flag.Parse()

	cfg, err := utils.LoadConfig(*cfgPath)
	if err != nil {
		fail("ERROR: " + err.Error())
	}
	override(&cfg.Bus.Interface, *iface)
	override(&cfg.Bus.Scheme, *scheme)
	override(&cfg.Host.Port, *port)
	override(&cfg.Monitor.Listen, *monAddr)
	override(&cfg.MQTT.Broker, *broker)
	override(&cfg.Log.Level, *logLevel)
	if err := cfg.Validate(); err != nil {
		fail("ERROR: " + err.Error())
	}

	// stdout carries the host protocol unless a serial port or the console
	// takes over, so logs are only mirrored when it is free.
	mirror := cfg.Host.Port != "" && !*console
	log, err := utils.NewFileLogger(cfg.Log.File, utils.ParseLevel(cfg.Log.Level), mirror)
	if err != nil {
		fail(fmt.Sprintf("ERROR: cannot open %s: %v", cfg.Log.File, err))
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, RunnerOptions{SequencePath: *seqPath, Console: *console}, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		runner.Close()
		log.Close()
		os.Exit(1)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fail(msg string) {
	_, _ = os.Stderr.WriteString(msg + "\n")
	os.Exit(1)
}
