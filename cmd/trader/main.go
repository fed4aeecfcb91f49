package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/archive"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/internal/ops"
	"github.com/arda-arslan/cryptobot/internal/trader"
)

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: appName(loaded.Profiling.ApplicationName),
			ServerAddress:   loaded.Profiling.ServerAddress,
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Errorf("profiler start failed: %v", err)
		} else {
			defer profiler.Stop()
		}
	}

	var archiver oms.Archiver
	if loaded.Archive.Enabled {
		store, err := archive.NewStore(loaded.Archive.Postgres)
		if err != nil {
			logs.Errorf("archive store unavailable: %v", err)
			os.Exit(1)
		}
		defer store.Close()
		archiver = store
	}

	metrics := obs.NewMetrics()
	coordinator, err := trader.New(ctx, loaded, metrics, archiver)
	if err != nil {
		logs.Errorf("trader wiring failed: %v", err)
		os.Exit(1)
	}

	logs.Infof("starting trader for %v", loaded.Products)
	if err := coordinator.Run(ctx); err != nil {
		logs.Errorf("trader stopped: %v", err)
		os.Exit(1)
	}

	snap := metrics.Snapshot()
	logs.Infof("final metrics: feed=%d book=%d gaps=%d resyncs=%d orders=%d risk_rejects=%d illegal_reports=%d queue_drops=%d",
		snap.FeedMessages, snap.BookUpdates, snap.FeedGaps, snap.Resyncs,
		snap.OrdersSubmitted, snap.RiskRejects, snap.IllegalReports, snap.QueueDrops)
}

func appName(name string) string {
	if name == "" {
		return "cryptobot.trader"
	}
	return name
}
