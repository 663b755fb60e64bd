package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"pubconfirm/internal/confirm"
	"pubconfirm/internal/confirm/broker"
	"pubconfirm/internal/confirm/coordinator"
	"pubconfirm/internal/confirm/metrics"
	"pubconfirm/internal/confirm/report"
	"pubconfirm/internal/confirm/strategy"
	"pubconfirm/internal/confirm/tracing"
	"pubconfirm/internal/couchbase"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// Broker is either amqp or memory.
	Broker  string `env:"BROKER" envDefault:"amqp"`
	Profile bool   `env:"PROFILE" envDefault:"false"`

	Campaigns coordinator.Config
	Strategy  strategy.Config
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
	AMQP      broker.AMQPConfig
	Memory    broker.MemoryConfig
	Couchbase report.CouchbaseConfig
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	if cfg.Profile {
		stop := profile()
		defer stop()
	}

	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", cfg.LogLevel, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := config.Build(zap.AddCaller())
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	requests, err := cfg.Campaigns.Requests()
	if err != nil {
		logger.Fatal("invalid campaign configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			logger.Info("interrupted, stopping after the current campaign")
			cancel()
		case <-ctx.Done():
		}
	}()

	metricsRegistry := metrics.NewRegistry()
	metricsRegistry.SetSystemInfo("confirms", time.Now().Format(time.RFC3339))

	metricsServer := metrics.NewServer(cfg.Metrics, metricsRegistry, logger)

	serverCtx, stopServer := context.WithCancel(context.Background())
	g, _ := errgroup.WithContext(serverCtx)
	g.Go(func() error {
		return metricsServer.Start(serverCtx)
	})
	defer func() {
		stopServer()
		if err := g.Wait(); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("metrics server started",
		zap.String("endpoint", fmt.Sprintf("http://localhost:%d/metrics", cfg.Metrics.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	baseBroker, err := newBroker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to broker", zap.Error(err))
	}
	defer func() {
		if err := baseBroker.Close(); err != nil {
			logger.Error("failed to close broker", zap.Error(err))
		}
	}()
	b := broker.NewTracedBroker(broker.NewMetricsBroker(baseBroker, metricsRegistry), tracer)

	metricsServer.SetReady(true)

	strategies := make([]confirm.Strategy, 0, len(confirm.StrategyKinds))
	for _, kind := range confirm.StrategyKinds {
		base, err := strategy.New(kind, cfg.Strategy, logger)
		if err != nil {
			logger.Fatal("failed to create strategy", zap.String("strategy", string(kind)), zap.Error(err))
		}
		strategies = append(strategies, strategy.NewTracedStrategy(strategy.NewMetricsStrategy(base, metricsRegistry), tracer))
	}

	recorder, closeRecorder, err := newRecorder(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create report recorder", zap.Error(err))
	}
	defer closeRecorder()

	coord, err := coordinator.NewCoordinator(b, report.NewMetricsRecorder(recorder, metricsRegistry), logger, strategies...)
	if err != nil {
		logger.Fatal("failed to create coordinator", zap.Error(err))
	}

	now := time.Now()
	results, err := coord.RunAll(ctx, requests)
	for _, res := range results {
		if res.Elapsed == 0 {
			fmt.Printf("%-12s failed\n", res.Strategy)
			continue
		}
		fmt.Printf("%-12s published %d messages in %d ms (%.0f msg/s, %s)\n",
			res.Strategy, res.Messages, res.Elapsed.Milliseconds(), res.Throughput(), res.Outcome)
	}
	if err != nil {
		logger.Error("campaigns failed", zap.Error(err))
	}

	fmt.Printf("\nRUN COMPLETE IN %.2f seconds\n", time.Since(now).Seconds())
}

func newBroker(ctx context.Context, cfg Config, logger *zap.Logger) (confirm.Broker, error) {
	switch cfg.Broker {
	case "amqp":
		return broker.DialAMQP(ctx, cfg.AMQP, logger)
	case "memory":
		logger.Info("using in-memory broker")
		return broker.NewMemoryBroker(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

func newRecorder(cfg Config, logger *zap.Logger) (confirm.Recorder, func(), error) {
	logRecorder, err := report.NewLogRecorder(logger)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Couchbase.Enabled {
		return logRecorder, func() {}, nil
	}

	cluster, bucket, err := report.ConnectCouchbase(cfg.Couchbase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Couchbase: %w", err)
	}

	reports, err := confirm.NewReportsStore(cluster, bucket, cfg.Couchbase.ScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create reports store: %w", err)
	}
	stats, err := confirm.NewStatsStore(cluster, bucket, cfg.Couchbase.ScopeName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stats store: %w", err)
	}

	transactions, err := couchbase.NewTransactions(cluster, cfg.Couchbase.TransactionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create transactions: %w", err)
	}

	cbRecorder, err := report.NewCouchbaseRecorder(reports, stats, transactions, logger, cfg.Couchbase.ReportTTL)
	if err != nil {
		return nil, nil, err
	}

	closeCluster := func() {
		if err := reports.Close(); err != nil {
			logger.Error("failed to close Couchbase", zap.Error(err))
		}
	}

	return report.NewMultiRecorder(logRecorder, cbRecorder), closeCluster, nil
}

// profile starts a CPU profile and returns the func that stops it and writes a heap profile.
func profile() func() {
	cpuProfile, err := os.Create("cpu.pprof")
	if err != nil {
		log.Fatal("could not create CPU profile: ", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		log.Fatal("could not start CPU profile: ", err)
	}

	return func() {
		pprof.StopCPUProfile()
		cpuProfile.Close()

		memProfile, err := os.Create("mem.pprof")
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer memProfile.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(memProfile); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}
