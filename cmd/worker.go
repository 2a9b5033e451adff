package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/agrosolutions/services/alerts/config"
	"example.com/agrosolutions/services/alerts/internal/cache"
	"example.com/agrosolutions/services/alerts/internal/history"
	"example.com/agrosolutions/services/alerts/internal/messaging"
	"example.com/agrosolutions/services/alerts/internal/metrics"
	"example.com/agrosolutions/services/alerts/internal/models"
	"example.com/agrosolutions/services/alerts/internal/notify"
	"example.com/agrosolutions/services/alerts/internal/repositories"
	"example.com/agrosolutions/services/alerts/internal/rules"
	"example.com/agrosolutions/services/alerts/internal/search"
	"example.com/agrosolutions/services/alerts/internal/services"
	"example.com/agrosolutions/services/alerts/internal/telemetry"
	"example.com/agrosolutions/services/alerts/internal/tracing"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the telemetry worker",
	Long:  `Start the background worker processing sensor telemetry from Azure Service Bus`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without audit indexing")
	}

	metricsCollector := metrics.NewMetrics()

	parser := telemetry.NewParser(typeCodeTable(cfg.Parser))
	historyClient := history.NewHTTPClient(cfg.History)
	evaluator := rules.NewEvaluator(historyClient, cfg.Alerting.PersistenceWindow, metricsCollector)
	repo := repositories.NewAlertRepository(db, readOnlyDB)

	notifier, err := notify.NewEmailQueueNotifier(cfg.Azure, cfg.Alerting.RecipientEmail)
	if err != nil {
		return err
	}
	defer notifier.Close()

	alertService := services.NewAlertService(
		parser, historyClient, evaluator, repo, notifier,
		elasticClient, redisCache, metricsCollector, tracer,
		cfg.Alerting.RecipientEmail)

	consumer, err := messaging.NewConsumer(cfg.Azure)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close Service Bus consumer")
		}
	}()

	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.TelemetryQueue).Msg("Starting telemetry processor")
		return consumer.ProcessMessages(ctx, alertService.ProcessTelemetryMessage)
	})

	g.Go(func() error {
		return runRetentionJob(ctx, repo, cfg.Alerting.RetentionDays)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// runRetentionJob purges alerts older than the retention horizon once a day
func runRetentionJob(ctx context.Context, repo *repositories.AlertRepository, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 90
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			removed, err := repo.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("Alert retention purge failed")
				return
			}
			log.Info().Int64("removed", removed).Msg("Alert retention purge completed")
		}),
	)
	if err != nil {
		return err
	}

	scheduler.Start()

	<-ctx.Done()

	return scheduler.Shutdown()
}

// typeCodeTable converts the configured code map into the parser's table
func typeCodeTable(cfg config.ParserConfig) map[int]telemetry.SensorKind {
	if len(cfg.TypeCodes) == 0 {
		return nil
	}

	table := make(map[int]telemetry.SensorKind, len(cfg.TypeCodes))
	for codeStr, label := range cfg.TypeCodes {
		code, err := strconv.Atoi(codeStr)
		if err != nil {
			log.Warn().Str("code", codeStr).Msg("Ignoring non-numeric sensor type code")
			continue
		}
		kind, ok := telemetry.KindFromLabel(label)
		if !ok {
			log.Warn().Str("label", label).Msg("Ignoring unknown sensor kind label")
			continue
		}
		table[code] = kind
	}
	if len(table) == 0 {
		return nil
	}
	return table
}

func initDatabases(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}
