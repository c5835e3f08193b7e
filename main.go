package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/naiad-media/naiad/internal"
	"github.com/naiad-media/naiad/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user configuration and runs the Naiad services until an
// interrupt is received.
func main() {
	configPath := flag.String("config", internal.DefaultConfigPath(), "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.DEBUG.Level())
	}

	config := internal.NaiadConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Fatalf("Failed to load configuration: %s\n", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Fatalf("Naiad stopped: %s\n", err.Error())
		os.Exit(1)
	}
}

func listenForInterrupt(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	<-signals
	log.Infof("Interrupt received, shutting down...\n")
	cancel()
}
