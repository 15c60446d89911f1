package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/spf13/cobra"

	"github.com/openlims/labbus"
	"github.com/openlims/labbus/api"
	"github.com/openlims/labbus/config"
	"github.com/openlims/labbus/log"
	"github.com/openlims/labbus/retry"
	"github.com/openlims/labbus/saga"
	"github.com/openlims/labbus/saga/mutex"
	"github.com/openlims/labbus/stream"
	amqprelay "github.com/openlims/labbus/transport/amqp"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "labbusd",
		Short: "Event and saga coordination daemon for laboratory services",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the bus API, the retry scheduler and configured relays",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "labbus.yaml", "path to the config file")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	logger := log.DefaultLogger()

	cfg, err := config.Load(configPath)

	if err != nil {
		return err
	}

	var busOpts []labbus.ConfigOption

	if cfg.Storage.Driver != "" {
		driverName := cfg.Storage.Driver
		if driverName == "pg" {
			driverName = "pgx"
		}

		db, err := sql.Open(driverName, cfg.Storage.DSN)

		if err != nil {
			return err
		}
		defer db.Close()

		processingStore, err := retry.NewSQLStore(db, retry.SQLDriver(cfg.Storage.Driver))

		if err != nil {
			return err
		}

		sagaStore, err := saga.NewSQLStore(db, saga.SQLDriver(cfg.Storage.Driver))

		if err != nil {
			return err
		}

		busOpts = append(busOpts,
			labbus.WithProcessingStore(processingStore),
			labbus.WithSagaStore(sagaStore),
			labbus.WithSagaMutex(mutex.NewSqlMutex(db, mutex.SQLDriver(cfg.Storage.Driver))),
		)
	}

	if cfg.AMQP.URL != "" {
		relay := amqprelay.NewRelay(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)

		if err := relay.Connect(context.Background()); err != nil {
			return err
		}
		defer relay.Disconnect(context.Background()) //nolint:errcheck

		busOpts = append(busOpts, labbus.WithRelays(relay))
	}

	if cfg.Scheduler.SweepInterval.Duration > 0 || cfg.Scheduler.BatchSize > 0 {
		busOpts = append(busOpts, labbus.WithSchedulerConfig(retry.Config{
			SweepInterval: cfg.Scheduler.SweepInterval.Duration,
			BatchSize:     cfg.Scheduler.BatchSize,
		}))
	}

	if cfg.Scheduler.TrimInterval.Duration > 0 {
		busOpts = append(busOpts, labbus.WithTrimInterval(cfg.Scheduler.TrimInterval.Duration))
	}

	busOpts = append(busOpts, labbus.WithConsumerConfig(cfg.Consumer))

	bus, err := labbus.NewBus(logger, busOpts...)

	if err != nil {
		return err
	}

	for _, s := range cfg.Streams {
		var opts []stream.StreamOption

		if s.SchemaVersion != "" {
			opts = append(opts, stream.WithSchemaVersion(s.SchemaVersion))
		}

		if s.Retention.Duration > 0 {
			opts = append(opts, stream.WithRetention(s.Retention.Duration))
		}

		if s.PartitionKey != "" {
			opts = append(opts, stream.WithPartitionKey(s.PartitionKey))
		}

		if _, err := bus.Streams().Create(s.Name, opts...); err != nil {
			return err
		}
	}

	for _, def := range cfg.Sagas {
		steps := make([]saga.StepDescriptor, len(def.Steps))

		for i, s := range def.Steps {
			steps[i] = saga.StepDescriptor{Name: s.Name, Timeout: s.Timeout.Duration}
		}

		if err := bus.SagaDefinitions().Register(saga.Definition{Name: def.Name, Steps: steps}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := bus.Scheduler().Run(ctx); err != nil {
			logger.Log(log.ErrorLevel, err)
		}
	}()

	go func() {
		if err := bus.RetentionSweeper().Run(ctx); err != nil {
			logger.Log(log.ErrorLevel, err)
		}
	}()

	sagaService := api.NewSagaService(bus.Orchestrator(), bus.SagaStore(), logger)

	server := api.NewServer(
		logger,
		cfg.Server.Address,
		api.NewPublishHandler(logger, bus.Publisher()),
		api.NewSagaHandler(logger, sagaService),
		api.NewDeadLetterHandler(logger, bus.Tracker()),
	)

	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
		<-signalChan

		logger.Log(log.InfoLevel, "received kill signal, shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log(log.ErrorLevel, err)
		}

		cancel()
	}()

	return server.Start()
}
