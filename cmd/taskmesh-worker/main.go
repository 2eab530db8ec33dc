// Command taskmesh-worker connects to a broker and runs the cooperative
// scheduler described in spec.md §4.1, executing whatever callables have
// been registered against registry.Default. This command registers none
// itself and exports no entry point; deployments that need their own
// callables build their own main package that blank-imports a package whose
// init registers them and wires the scheduler the same way this one does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskmesh-go/taskmesh/config"
	"github.com/taskmesh-go/taskmesh/logging"
	"github.com/taskmesh-go/taskmesh/registry"
	"github.com/taskmesh-go/taskmesh/scheduler"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file")
		identity   = flag.String("identity", "", "this worker's identity (default: hostname-pid)")
		origin     = flag.Bool("origin", false, "run as the origin worker a top-level Submit targets")
		taskAddr   = flag.String("task-addr", "", "broker task socket address (overrides config)")
		metaAddr   = flag.String("meta-addr", "", "broker info socket address (overrides config)")
		poolSize   = flag.Int("pool-size", 0, "local FutureQueue high-water mark (overrides config)")
		debug      = flag.Bool("debug", false, "enable development-mode logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskmesh-worker:", err)
		os.Exit(1)
	}
	if *identity != "" {
		cfg.Identity = *identity
	}
	if cfg.Identity == "" {
		host, _ := os.Hostname()
		cfg.Identity = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if *origin {
		cfg.Origin = true
	}
	if *taskAddr != "" {
		cfg.TaskAddr = *taskAddr
	}
	if *metaAddr != "" {
		cfg.MetaAddr = *metaAddr
	}
	if *poolSize > 0 {
		cfg.PoolSize = *poolSize
	}
	if *debug {
		cfg.Debug = true
	}

	if err := logging.Init(cfg.Debug); err != nil {
		fmt.Fprintln(os.Stderr, "taskmesh-worker: logging init:", err)
		os.Exit(1)
	}
	log := logging.Default().Named("taskmesh-worker")

	ctrl := scheduler.New(
		scheduler.WithRegistry(registry.Default),
		scheduler.WithHighWaterMark(cfg.PoolSize),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := ctrl.Startup(ctx, cfg.TaskAddr, cfg.MetaAddr, cfg.Identity, cfg.Origin); err != nil {
		log.Errorw("startup failed", "err", err)
		os.Exit(1)
	}
	log.Infow("connected", "identity", cfg.Identity, "origin", cfg.Origin, "task_addr", cfg.TaskAddr)

	<-ctx.Done()
	log.Infow("shutting down")
	if err := ctrl.Shutdown(); err != nil {
		log.Errorw("shutdown error", "err", err)
	}
}
