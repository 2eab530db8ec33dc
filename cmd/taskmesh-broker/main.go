// Command taskmesh-broker runs the central message router a taskmesh
// cluster's workers and origin process connect to (spec.md §4.3), exposing
// its task socket, info socket, and Prometheus metrics over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/taskmesh-go/taskmesh/broker"
	"github.com/taskmesh-go/taskmesh/config"
	"github.com/taskmesh-go/taskmesh/logging"
	"github.com/taskmesh-go/taskmesh/metrics"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file")
		listenAddr = flag.String("listen", ":5555", "address the broker listens on")
		identity   = flag.String("identity", "broker", "this broker's cluster identity")
		headless   = flag.Bool("headless", false, "mark this pool headless in the INIT configuration")
		forward    = flag.Int("forward-threshold", 0, "unassigned task depth above which surplus tasks are forwarded to a peer (0 keeps the default)")
		debug      = flag.Bool("debug", false, "enable development-mode logging")
		saveInit   = flag.Bool("init", false, "write the default config to -config and exit")
	)
	flag.Parse()

	if *saveInit {
		if *configPath == "" {
			fmt.Fprintln(os.Stderr, "taskmesh-broker: -init requires -config")
			os.Exit(1)
		}
		if err := config.SaveFile(config.DefaultConfig(), *configPath); err != nil {
			fmt.Fprintln(os.Stderr, "taskmesh-broker:", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskmesh-broker:", err)
		os.Exit(1)
	}
	if *identity != "broker" {
		cfg.Identity = *identity
	}
	if *debug {
		cfg.Debug = true
	}

	if err := logging.Init(cfg.Debug); err != nil {
		fmt.Fprintln(os.Stderr, "taskmesh-broker: logging init:", err)
		os.Exit(1)
	}
	log := logging.Default().Named("taskmesh-broker")

	reg := prometheus.NewRegistry()
	opts := []broker.Option{
		broker.WithIdentity(cfg.Identity),
		broker.WithMetrics(metrics.NewPrometheusProvider(reg)),
	}
	if *headless {
		opts = append(opts, broker.WithHeadless())
	}
	if *forward > 0 {
		opts = append(opts, broker.WithClusterForwardThreshold(*forward))
	}
	if cfg.RedisAddr != "" {
		opts = append(opts, broker.WithRedisMirror(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "taskmesh.shared"))
	}

	b := broker.New(opts...)

	mux := b.Mux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		if err := b.Run(ctx); err != nil {
			log.Errorw("broker event loop stopped", "err", err)
		}
	}()

	if len(cfg.ClusterPeers) > 0 {
		b.Connect(cfg.ClusterPeers)
	}

	log.Infow("listening", "addr", *listenAddr, "identity", cfg.Identity)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorw("http server stopped", "err", err)
		os.Exit(1)
	}
}
