// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intellimaint/intellimaint/internal/aggregator"
	"github.com/intellimaint/intellimaint/internal/alarmstore"
	"github.com/intellimaint/intellimaint/internal/checkpoint"
	"github.com/intellimaint/intellimaint/internal/collector"
	"github.com/intellimaint/intellimaint/internal/config"
	"github.com/intellimaint/intellimaint/internal/connpool"
	"github.com/intellimaint/intellimaint/internal/dispatcher"
	"github.com/intellimaint/intellimaint/internal/evaluator"
	"github.com/intellimaint/intellimaint/internal/health"
	"github.com/intellimaint/intellimaint/internal/lastdata"
	"github.com/intellimaint/intellimaint/internal/metrics"
	"github.com/intellimaint/intellimaint/internal/natsbridge"
	"github.com/intellimaint/intellimaint/internal/obslog"
	"github.com/intellimaint/intellimaint/internal/overflow"
	"github.com/intellimaint/intellimaint/internal/pipeline"
	"github.com/intellimaint/intellimaint/internal/ruleregistry"
	"github.com/intellimaint/intellimaint/internal/scheduler"
	"github.com/intellimaint/intellimaint/internal/supervisor"
	"github.com/intellimaint/intellimaint/internal/telemetry"
	"github.com/intellimaint/intellimaint/internal/window"
	"github.com/intellimaint/intellimaint/internal/writer"
	"github.com/intellimaint/intellimaint/pkg/nats"
)

// defaultTelemetryDir holds the line-protocol files telemetry.FileSink
// writes to when no NATS bridge is configured.
const defaultTelemetryDir = "./var/telemetry"

const shutdownDeadline = 10 * time.Second

func main() {
	var flagConfigFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the program's JSON configuration file")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			obslog.Fatalf("gops/agent.Listen failed: %v", err)
		}
	}

	if err := godotenv.Load("./.env"); err != nil && !os.IsNotExist(err) {
		obslog.Fatalf("parsing './.env' file failed: %v", err)
	}

	if err := config.Init(flagConfigFile); err != nil {
		obslog.Fatalf("config: %v", err)
	}
	cfg := config.Keys()
	obslog.SetLevel(cfg.LogLevel)

	if cfg.Gops && !flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			obslog.Fatalf("gops/agent.Listen failed: %v", err)
		}
	}

	store, err := alarmstore.Open(cfg.AlarmDB)
	if err != nil {
		obslog.Fatalf("alarmstore: %v", err)
	}

	overflowSink, err := overflow.New(overflow.Config{
		Dir:           cfg.Overflow.Dir,
		RollSizeMB:    cfg.Overflow.RollSizeMB,
		Gzip:          cfg.Overflow.Gzip,
		RetentionDays: cfg.Overflow.RetentionDays,
	})
	if err != nil {
		obslog.Fatalf("overflow: %v", err)
	}

	teleSink, closeTeleSink, err := buildTelemetrySink(cfg)
	if err != nil {
		obslog.Fatalf("telemetry: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := lastdata.New(store)
	if snap, err := store.LoadLastSeen(ctx); err != nil {
		obslog.Warnf("lastdata: seed from alarm store failed: %v", err)
	} else {
		tracker.Seed(snap)
	}
	checkpointer, err := checkpoint.New(tracker, cfg.CheckpointDir)
	if err != nil {
		obslog.Fatalf("checkpoint: %v", err)
	}
	if path, ok, err := checkpoint.Latest(cfg.CheckpointDir); err != nil {
		obslog.Warnf("checkpoint: locate latest failed: %v", err)
	} else if ok {
		if err := checkpointer.Load(path); err != nil {
			obslog.Warnf("checkpoint: load %s failed: %v", path, err)
		} else {
			obslog.Infof("checkpoint: restored last-seen state from %s", path)
		}
	}

	registry := ruleregistry.New(config.NewRuleRepository())
	win := window.New()

	pipe := pipeline.New(cfg.PipelineCapacity)
	writerTarget := dispatcher.NewTarget("writer", cfg.DispatcherCapacity)
	thresholdTarget := dispatcher.NewTarget("threshold", cfg.DispatcherCapacity)
	rocTarget := dispatcher.NewTarget("roc", cfg.DispatcherCapacity)
	volatilityTarget := dispatcher.NewTarget("volatility", cfg.DispatcherCapacity)
	lastdataTarget := dispatcher.NewTarget("lastdata", cfg.DispatcherCapacity)
	disp := dispatcher.New(pipe, writerTarget, thresholdTarget, rocTarget, volatilityTarget, lastdataTarget)

	var subClient *nats.Client
	var alarmPub *natsbridge.AlarmPublisher
	if cfg.Nats != nil {
		client, err := nats.NewClient(&nats.NatsConfig{
			Address:       cfg.Nats.Address,
			Username:      cfg.Nats.Username,
			Password:      cfg.Nats.Password,
			CredsFilePath: cfg.Nats.CredsFilePath,
		})
		if err != nil {
			obslog.Fatalf("natsbridge: connect: %v", err)
		}
		subClient = client
		if cfg.Nats.SampleSubject != "" {
			bridge := natsbridge.New(client, pipe, cfg.Nats.SampleSubject)
			if err := bridge.Start(); err != nil {
				obslog.Fatalf("natsbridge: subscribe: %v", err)
			}
		}
		if cfg.Nats.AlarmSubject != "" {
			alarmPub = natsbridge.NewAlarmPublisher(client, cfg.Nats.AlarmSubject)
		}
	}

	agg := aggregator.New(store)
	var alarmSink evaluator.AlarmSink = evaluator.NewStoreSink(store, agg)
	if alarmPub != nil {
		alarmSink = publishAlarmSink{AlarmSink: alarmSink, pub: alarmPub}
	}

	telemetryRepo := telemetry.New(teleSink)
	bw := writer.New(telemetryRepo, overflowSink, writer.Config{
		BatchSize:  cfg.Writer.BatchSize,
		FlushMs:    cfg.Writer.FlushMs,
		MaxRetries: cfg.Writer.MaxRetries,
	})

	// The Prometheus registry is always built so the alarm-family counter
	// accumulates regardless of whether /metrics is served; only the HTTP
	// listener below is conditional on cfg.MetricsAddr.
	promReg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(promReg, pipe,
		[]*dispatcher.Target{writerTarget, thresholdTarget, rocTarget, volatilityTarget, lastdataTarget}, bw)

	threshold := evaluator.NewThreshold(registry, metricsAlarmSink{AlarmSink: alarmSink, family: "threshold", reg: metricsReg})
	roc := evaluator.NewRoC(registry, win, metricsAlarmSink{AlarmSink: alarmSink, family: "roc", reg: metricsReg})
	volatility := evaluator.NewVolatility(registry, win, metricsAlarmSink{AlarmSink: alarmSink, family: "volatility", reg: metricsReg})
	offline := evaluator.NewOffline(registry, tracker, metricsAlarmSink{AlarmSink: alarmSink, family: "offline", reg: metricsReg})

	pool := connpool.New(0)
	healthTracker := health.New()
	coll := collector.New(pool, healthTracker, pipe, cfg.Simulation)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	sched, err := scheduler.New()
	if err != nil {
		obslog.Fatalf("scheduler: %v", err)
	}
	registerSchedulerJobs(ctx, sched, pool, overflowSink, offline, tracker, []stateSweeper{threshold, roc, volatility, offline})
	sched.Start()

	sv := supervisor.New(ctx)
	sv.GoLoop("dispatcher", disp.Run)
	sv.GoLoop("writer", func(ctx context.Context) { bw.Run(ctx, writerTarget.Chan()) })
	sv.GoLoop("threshold", func(ctx context.Context) { threshold.Run(ctx, thresholdTarget.Chan()) })
	sv.GoLoop("roc", func(ctx context.Context) { roc.Run(ctx, rocTarget.Chan()) })
	sv.GoLoop("volatility", func(ctx context.Context) { volatility.Run(ctx, volatilityTarget.Chan()) })
	sv.GoLoop("lastdata-consume", func(ctx context.Context) { tracker.Consume(ctx, lastdataTarget.Chan()) })
	sv.GoLoop("ruleregistry", registry.Run)
	sv.GoLoop("checkpoint", checkpointer.Run)
	if metricsServer != nil {
		sv.Go("metrics-http", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				metricsServer.Shutdown(shutdownCtx)
			}()
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if err := coll.Start(ctx, cfg.Endpoints); err != nil {
		obslog.Fatalf("collector: %v", err)
	}

	obslog.Infof("intellimaint: running (%d endpoints, simulation=%v)", len(cfg.Endpoints), cfg.Simulation)

	watchSighup(ctx, flagConfigFile, registry)

	<-ctx.Done()
	obslog.Infof("intellimaint: shutdown signal received, draining...")

	coll.Stop(shutdownDeadline)
	if err := sv.Shutdown(shutdownDeadline); err != nil {
		obslog.Warnf("supervisor: shutdown: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		obslog.Warnf("scheduler: shutdown: %v", err)
	}
	if err := tracker.Flush(context.Background()); err != nil {
		obslog.Warnf("lastdata: final flush failed: %v", err)
	}
	if path, err := checkpointer.Save(); err != nil {
		obslog.Warnf("checkpoint: final save failed: %v", err)
	} else {
		obslog.Infof("checkpoint: final snapshot saved to %s", path)
	}
	if err := overflowSink.Close(); err != nil {
		obslog.Warnf("overflow: close: %v", err)
	}
	if subClient != nil {
		subClient.Close()
	}
	if closeTeleSink != nil {
		if err := closeTeleSink(); err != nil {
			obslog.Warnf("telemetry: close: %v", err)
		}
	}
	if err := store.Shutdown(context.Background()); err != nil {
		obslog.Warnf("alarmstore: shutdown: %v", err)
	}

	obslog.Infof("intellimaint: shutdown complete")
}

// buildTelemetrySink picks the NATS publisher when configured, otherwise a
// local rolling file under defaultTelemetryDir, so the writer always has a
// durable destination even with no bridge wired up.
func buildTelemetrySink(cfg *config.ProgramConfig) (telemetry.Sink, func() error, error) {
	if cfg.Nats != nil && cfg.Nats.PublishSubject != "" {
		client, err := nats.NewClient(&nats.NatsConfig{
			Address:       cfg.Nats.Address,
			Username:      cfg.Nats.Username,
			Password:      cfg.Nats.Password,
			CredsFilePath: cfg.Nats.CredsFilePath,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() error {
			client.Close()
			return nil
		}
		return natsbridge.NewPublisher(client, cfg.Nats.PublishSubject), closeFn, nil
	}

	sink, err := telemetry.NewFileSink(defaultTelemetryDir, 0)
	if err != nil {
		return nil, nil, err
	}
	return sink, sink.Close, nil
}

// stateSweeper is implemented by every evaluator holding per-rule runtime
// state that the periodic idle sweep must bound.
type stateSweeper interface {
	SweepState()
}

func registerSchedulerJobs(ctx context.Context, sched *scheduler.Scheduler, pool *connpool.Pool, overflowSink *overflow.Sink, offline *evaluator.Offline, tracker *lastdata.Tracker, sweepers []stateSweeper) {
	_ = sched.Register(ctx, scheduler.Job{
		Name:     "connpool-reap",
		Interval: 10 * time.Second,
		Run: func(ctx context.Context) error {
			pool.Reap()
			return nil
		},
	})
	_ = sched.Register(ctx, scheduler.Job{
		Name:     "overflow-retention",
		Interval: time.Hour,
		Run:      overflowSink.CleanOld,
	})
	_ = sched.Register(ctx, scheduler.Job{
		Name:     "offline-sweep",
		Interval: evaluator.SweepInterval,
		Run: func(ctx context.Context) error {
			offline.Sweep(ctx)
			return nil
		},
	})
	_ = sched.Register(ctx, scheduler.Job{
		Name:     "lastdata-flush",
		Interval: lastdata.FlushInterval,
		Run:      tracker.Flush,
	})
	_ = sched.Register(ctx, scheduler.Job{
		Name:     "rulestate-sweep",
		Interval: evaluator.StateSweepInterval,
		Run: func(ctx context.Context) error {
			for _, s := range sweepers {
				s.SweepState()
			}
			return nil
		},
	})
}

// watchSighup reloads the configuration file and wakes the rule registry on
// SIGHUP, without requiring a process restart.
func watchSighup(ctx context.Context, configPath string, registry *ruleregistry.Registry) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(sighup)
				return
			case <-sighup:
				if err := config.Reload(configPath); err != nil {
					obslog.Warnf("config: reload failed: %v", err)
					continue
				}
				registry.Notify()
			}
		}
	}()
}
