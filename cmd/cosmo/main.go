// Command cosmo is the process entrypoint: parse flags, load
// configuration, wire the registry, and run the Engine. Per spec §1/§6
// the CLI surface itself is an out-of-scope collaborator, so this file
// stays thin — it only resolves flags into an engine.Config and calls
// Run.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bitsbeam/cosmonauts/pkg/broker/natsjs"
	"github.com/bitsbeam/cosmonauts/pkg/config"
	"github.com/bitsbeam/cosmonauts/pkg/engine"
	apperrors "github.com/bitsbeam/cosmonauts/pkg/errors"
	"github.com/bitsbeam/cosmonauts/pkg/jobs"
	"github.com/bitsbeam/cosmonauts/pkg/logger"
	"github.com/bitsbeam/cosmonauts/pkg/registry"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("C", "cosmo.yml", "configuration file path")
	concurrency := flag.Int("c", 0, "override concurrency (0 = use config)")
	setupOnly := flag.Bool("S", false, "create consumers and exit")
	flag.Parse()

	mode := engine.ModeBoth
	switch flag.Arg(0) {
	case "jobs":
		mode = engine.ModeJobs
	case "streams":
		mode = engine.ModeStreams
	}

	logger.Init(logger.Config{Level: "INFO", Format: "JSON"})
	log := logger.L()

	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Error("config load failed", "error", err)
		if apperrors.Code(err) == apperrors.CodeConfigNotFound {
			return 1
		}
		return 1
	}

	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}

	client, err := natsjs.New(natsjs.Config{URL: cfg.Broker.URL})
	if err != nil {
		log.Error("broker connection failed", "error", err)
		return 1
	}
	defer client.Close()

	reg := registry.New()
	reg.LoadJobStreams(cfg.Consumers.Jobs)
	reg.LoadStreamOverrides(cfg.Consumers.Streams)

	// User handler classes register themselves against reg via an
	// init-time side-effect import of their package (spec §3's
	// "handler-class registration (module inclusion)"); that import is
	// the deployment's responsibility, not the runtime's.

	eng := engine.New(engine.Config{
		Concurrency:     cfg.Concurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Mode:            mode,
		JobsTimeouts: jobs.Timeouts{
			JobsFetch:      cfg.JobsFetchTimeout,
			SchedulerFetch: cfg.JobsSchedulerFetchTimeout,
		},
		StreamsTimeout: cfg.StreamsFetchTimeout,
	}, client, reg)

	ctx := context.Background()

	if *setupOnly {
		if err := eng.Setup(ctx); err != nil {
			log.Error("setup failed", "error", err)
			return 1
		}
		fmt.Println("setup complete")
		return 0
	}

	if err := eng.Run(ctx); err != nil {
		log.Error("engine run failed", "error", err)
		return 1
	}
	return 0
}
