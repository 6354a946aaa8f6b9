package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smukkama/plant-monitor/internal/collector"
	"github.com/smukkama/plant-monitor/internal/database"
	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/queue"
	"github.com/smukkama/plant-monitor/internal/sensor"
	"github.com/smukkama/plant-monitor/internal/server"
	"github.com/smukkama/plant-monitor/internal/store"
	"github.com/smukkama/plant-monitor/pkg/config"
)

func main() {
	once := flag.Bool("once", false, "take a single sample and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(config.RoleCollector)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closer, err := logging.Init(cfg.Logging, "collector")
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}
	defer closer.Close()

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("collector_failed", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, once bool) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Connect to database
	db, err := database.Connect(cfg.Storage.Database.Driver, cfg.Storage.Database.DataSourceName())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(logger); err != nil {
		return err
	}

	csvSink, err := store.OpenCSVLogSink(cfg.Storage.CSVPath)
	if err != nil {
		return err
	}
	defer csvSink.Close()

	sinks := []store.Sink{store.NewTableSink(db), csvSink}

	if cfg.Kafka.Enabled() {
		if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1); err != nil {
			logger.Warn("kafka_topic_create_failed", "topic", cfg.Kafka.TopicReadings, "error", err)
		}
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.WriteTimeout)
		defer producer.Close()
		sinks = append(sinks, store.NewStreamSink(producer))
	}

	sampleStore := store.NewSampleStore(db, sinks, cfg.Storage.WriteTimeout, logger, m)
	if err := sampleStore.Resume(context.Background()); err != nil {
		return err
	}

	bus, err := sensor.Open(cfg.Sensor, logger)
	if err != nil {
		return fmt.Errorf("failed to acquire sensor bus: %w", err)
	}

	loop := collector.NewLoop(bus, sampleStore, cfg.Collector.Interval, logger, m)

	if once {
		defer bus.Close()
		outcome := loop.RunOnce(context.Background())
		logger.Info("single_sample", "outcome", outcome)
		return nil
	}

	if cfg.Metrics.Addr != "" {
		ops := server.NewOpsServer(cfg.Metrics.Addr, reg, func() server.Health {
			h := server.Health{Status: "ok", Service: "collector", Details: map[string]string{
				"state": loop.State().String(),
				"ticks": fmt.Sprint(loop.Ticks()),
			}}
			if loop.State() == collector.StateStopped {
				h.Status = "unavailable"
			}
			return h
		}, logger)
		if err := ops.Start(); err != nil {
			bus.Close()
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Stop(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("collector_started",
		"driver", cfg.Sensor.Driver,
		"interval", cfg.Collector.Interval.String(),
		"db_driver", db.Driver(),
		"csv", csvSink.Path(),
		"kafka", cfg.Kafka.Enabled())

	// Run owns the bus and releases it on return.
	if err := loop.Run(ctx); err != nil {
		return err
	}

	logger.Info("collector_stopped", "ticks", loop.Ticks())
	return nil
}
