package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aevon-lab/carbonrelay/internal/aggregation"
	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	"github.com/aevon-lab/carbonrelay/internal/config"
	coreagg "github.com/aevon-lab/carbonrelay/internal/core/aggregation"
	"github.com/aevon-lab/carbonrelay/internal/core/hashring"
	"github.com/aevon-lab/carbonrelay/internal/ingestion"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/aevon-lab/carbonrelay/internal/logging"
	"github.com/aevon-lab/carbonrelay/internal/receiver"
	"github.com/aevon-lab/carbonrelay/internal/relay"
	"github.com/aevon-lab/carbonrelay/internal/server"
	"github.com/aevon-lab/carbonrelay/internal/sink"
	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	configPath := flag.String("config", "carbonrelay.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Bootstrap logger until the configured one is known
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration (rules and rewrites included)
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"nodes", cfg.Relay.Nodes,
		"hash_type", cfg.Relay.HashType,
		"method", cfg.Relay.Method,
		"rules", cfg.Rules.Len(),
		"rewrites", cfg.Rewrites.Len(),
	)

	if cfg.Debug.EnableGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			slog.Error("Failed to start gops agent", "error", err)
			os.Exit(1)
		}
		defer agent.Close()
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.New(registry)

	// 3. Hash ring and relay router
	ring, err := hashring.New(cfg.Relay.Nodes, cfg.Relay.ReplicaCount, cfg.Relay.ParsedHashType())
	if err != nil {
		slog.Error("Failed to build hash ring", "error", err)
		os.Exit(1)
	}

	rules := coreagg.NewRuleStore(cfg.Rules, cfg.Rewrites)
	buffers := coreagg.NewBufferTable(cfg.Aggregation.IdleBufferTTL)

	// Forwarders outlive the pipeline: they stop when router.Close closes their queue.
	var forwarders sync.WaitGroup
	router, err := relay.New(ring, relay.Options{
		Method:            cfg.Relay.ParsedMethod(),
		ReplicationFactor: cfg.Relay.ReplicationFactor,
		QueueSize:         cfg.Relay.DestinationQueueSize,
		Rules:             rules,
		OnDestination: func(q *sink.Queue) {
			forwarders.Add(1)
			go func() {
				defer forwarders.Done()
				relay.Forward(context.Background(), q, deliverLog(q.Name()))
			}()
		},
	})
	if err != nil {
		slog.Error("Failed to build relay router", "error", err)
		os.Exit(1)
	}

	// 4. Aggregation pipeline
	recv := receiver.New(
		rules,
		buffers,
		aggregation.NewRetryingSink(router, cfg.Aggregation.EmitRetryTimeout),
		receiver.PolicyFromFlag(cfg.Aggregation.SuppressOriginal),
		metrics,
	)
	dispatcher := aggregation.NewDispatcher(recv, aggregation.DispatcherOptions{
		QueueSize:   cfg.Aggregation.QueueSize,
		WorkerCount: cfg.Aggregation.WorkerCount,
	}, metrics)
	dispatcher.Start()

	scheduler := aggregation.NewScheduler(buffers, router, aggregation.SchedulerOptions{
		Interval:    cfg.Aggregation.FlushInterval,
		MaxLateness: cfg.Aggregation.MaxLateness,
	}, metrics)

	slog.Info("Aggregation pipeline initialized",
		"workers", cfg.Aggregation.WorkerCount,
		"queue_size", cfg.Aggregation.QueueSize,
		"flush_interval", cfg.Aggregation.FlushInterval,
		"max_lateness", cfg.Aggregation.MaxLateness,
		"suppression", recv.Policy(),
	)

	// 5. HTTP surface
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode)
	srv.AddHealthCheck("ring", router)
	srv.RegisterMetrics(registry)
	(&server.Admin{
		Router:  router,
		Rules:   rules,
		Buffers: buffers,
		Metrics: metrics,
		Pending: dispatcher.Pending,
	}).RegisterRoutes(srv.Engine)
	ingestion.NewService(dispatcher, cfg.Server.MaxBodySizeMB, metrics).RegisterRoutes(srv.Engine)

	// 6. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Start(schedCtx); err != nil {
			slog.Error("Scheduler stopped with error", "error", err)
		}
	}()

	if cfg.Aggregation.Watch {
		watcher := aggregation.NewRuleWatcher(cfg.Aggregation.RulesDir, cfg.Aggregation.RewriteFile, rules)
		go func() {
			if err := watcher.Start(ctx); err != nil {
				slog.Error("Rule watcher stopped with error", "error", err)
			}
		}()
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// 7. Drain in dependency order: intake, buffers, destinations.
	if err := dispatcher.Close(); err != nil {
		slog.Error("Dispatcher drain failed", "error", err)
	}
	stopScheduler()
	<-schedDone
	router.Close()
	forwarders.Wait()

	slog.Info("Shutdown complete", "counters", metrics.Snapshot())
}

// deliverLog stands in for a network sender: it records what would be
// written to node.
func deliverLog(node string) sink.Sink {
	return sink.Func(func(metric string, dp v1.Datapoint) error {
		slog.Debug("[Relay] Deliver", "node", node, "metric", metric, "timestamp", dp.Timestamp, "value", dp.Value)
		return nil
	})
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
