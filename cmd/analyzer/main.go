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
	"github.com/redis/go-redis/v9"

	"github.com/smukkama/plant-monitor/internal/aggregation"
	"github.com/smukkama/plant-monitor/internal/alarming"
	"github.com/smukkama/plant-monitor/internal/analysis"
	"github.com/smukkama/plant-monitor/internal/database"
	"github.com/smukkama/plant-monitor/internal/logging"
	"github.com/smukkama/plant-monitor/internal/metrics"
	"github.com/smukkama/plant-monitor/internal/notification"
	"github.com/smukkama/plant-monitor/internal/server"
	"github.com/smukkama/plant-monitor/internal/store"
	"github.com/smukkama/plant-monitor/internal/timer"
	"github.com/smukkama/plant-monitor/pkg/config"
)

func main() {
	schedule := flag.Bool("schedule", false, "run daily at ANALYSIS_DAILY_TIME instead of once")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(config.RoleAnalyzer)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, closer, err := logging.Init(cfg.Logging, "analyzer")
	if err != nil {
		log.Fatalf("Failed to initialise logging: %v", err)
	}
	defer closer.Close()

	if err := run(cfg, logger, *schedule); err != nil {
		logger.Error("analyzer_failed", "error", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, schedule bool) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	source, cleanup, err := openSource(cfg, logger, m)
	if err != nil {
		return err
	}
	defer cleanup()

	dispatcher := notification.NewDispatcher(nil, cfg.Notification.Timeout, logger, m)
	dispatcher.Register(notification.ChannelEmail, cfg.Notification.RecipientEmail,
		notification.NewEmailSender(cfg.Notification.SMTP, logger))

	if cfg.Notification.EnableSMS {
		dispatcher.Register(notification.ChannelSMS, cfg.Notification.RecipientPhone,
			notification.NewSMSSender(cfg.Notification.Twilio, logger))
	}

	if cfg.Notification.MQTT.Enabled() {
		mqttSender, err := notification.NewMQTTSender(cfg.Notification.MQTT, cfg.Notification.Timeout)
		if err != nil {
			logger.Warn("mqtt_unavailable", "broker", cfg.Notification.MQTT.BrokerURL, "error", err)
		} else {
			defer mqttSender.Close()
			dispatcher.Register(notification.ChannelMQTT, cfg.Notification.MQTT.Topic, mqttSender)
		}
	}

	var ledger analysis.AlertLedger
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis_unavailable", "addr", cfg.Redis.Addr, "error", err)
		} else {
			ledger = alarming.NewStateManager(client)
		}
	}

	job := analysis.NewJob(
		source,
		aggregation.NewDailyAggregator(cfg.Analysis.Location),
		cfg.Thresholds.Ranges,
		dispatcher,
		ledger,
		cfg.Analysis.Lookback,
		logger,
		m,
	)

	if !schedule {
		_, err := job.Run(context.Background())
		return err
	}
	return runScheduled(cfg, logger, reg, job)
}

// openSource returns the reading history selected by ANALYSIS_SOURCE.
func openSource(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (analysis.Source, func(), error) {
	if cfg.Analysis.Source == "csv" {
		return analysis.NewCSVSource(cfg.Analysis.DataFilePath, cfg.Analysis.Location, logger), func() {}, nil
	}

	db, err := database.Connect(cfg.Storage.Database.Driver, cfg.Storage.Database.DataSourceName())
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(logger); err != nil {
		db.Close()
		return nil, nil, err
	}
	// Read-only: the store gets no sinks.
	return store.NewSampleStore(db, nil, cfg.Storage.WriteTimeout, logger, m), func() { db.Close() }, nil
}

func runScheduled(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry, job *analysis.Job) error {
	hour, minute, err := config.ParseTimeOfDay(cfg.Analysis.DailyTime)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := timer.NewScheduler(1, logger)
	scheduler.Start()
	defer scheduler.Stop()

	if err := scheduler.ScheduleDaily("daily-analysis", hour, minute, cfg.Analysis.Location, func() {
		if _, err := job.Run(ctx); err != nil {
			logger.Error("analysis_failed", "error", err)
		}
	}); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		ops := server.NewOpsServer(cfg.Metrics.Addr, reg, func() server.Health {
			h := server.Health{Status: "ok", Service: "analyzer"}
			if next, ok := scheduler.Next("daily-analysis"); ok {
				h.Details = map[string]string{"next_run": next.Format(time.RFC3339)}
			}
			return h
		}, logger)
		if err := ops.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = ops.Stop(shutdownCtx)
		}()
	}

	logger.Info("analyzer_scheduled", "daily_time", fmt.Sprintf("%02d:%02d", hour, minute),
		"timezone", cfg.Analysis.Location.String())

	<-ctx.Done()
	logger.Info("analyzer_stopping")
	return nil
}
