package cmd

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pharmabot/dispenser-controller/internal/pkg/config"
	"github.com/pharmabot/dispenser-controller/internal/pkg/contxt"
	"github.com/pharmabot/dispenser-controller/internal/pkg/database"
	"github.com/pharmabot/dispenser-controller/internal/pkg/database/migration"
	"github.com/pharmabot/dispenser-controller/internal/pkg/dispense"
	"github.com/pharmabot/dispenser-controller/internal/pkg/mqtt"
	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
	"github.com/pharmabot/dispenser-controller/internal/pkg/registry"
	"github.com/pharmabot/dispenser-controller/internal/pkg/schedule"
	"github.com/pharmabot/dispenser-controller/internal/pkg/server"
	"github.com/pharmabot/dispenser-controller/internal/pkg/statestore"
)

// ControllerCommand is the main entry point for the dispenser controller
// CLI command. It validates configuration and starts all required services.
func ControllerCommand(ctx *cli.Context) error {
	cfg := &config.Config{
		DatabaseURL:        ctx.String("database-url"),
		MigrationsFolder:   ctx.String("migrations-folder"),
		ListenAddr:         ctx.String("listen-addr"),
		LogLevel:           ctx.String("log-level"),
		Timezone:           ctx.String("timezone"),
		HeartbeatInterval:  ctx.Duration("heartbeat-interval"),
		DevicePollInterval: ctx.Duration("device-poll-interval"),
		ScanInterval:       ctx.Duration("scan-interval"),
		DispatchTimeout:    ctx.Duration("dispatch-timeout"),
		DispatchRetryMax:   ctx.Int("dispatch-retry-max"),
		MqttCfg: &config.MqttConfig{
			Host:     ctx.String("mqtt-host"),
			Username: ctx.String("mqtt-user"),
			Password: ctx.String("mqtt-pass"),
		},
	}

	return run(ctx.Context, cfg)
}

func run(ctx context.Context, cfg *config.Config) error {
	errorChan := make(chan error, 1000)
	var err error

	eg, ctx := errgroup.WithContext(ctx)
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if cfg.MigrationsFolder != "" {
		if err := migration.Migrate(cfg.DatabaseURL, cfg.MigrationsFolder); err != nil {
			return err
		}
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	db := database.NewDatabase(ctx, pool)

	if err := publisher.RegisterPublisher("postgres", db); err != nil {
		return err
	}
	if cfg.MqttCfg.Host != "" {
		opts := paho_mqtt.NewClientOptions().
			AddBroker(cfg.MqttCfg.Host).
			SetUsername(cfg.MqttCfg.Username).
			SetPassword(cfg.MqttCfg.Password)
		mqttSvc := mqtt.New(paho_mqtt.NewClient(opts))
		if err := mqttSvc.Connect(); err != nil {
			return err
		}
		if err := publisher.RegisterPublisher("mqtt", mqttSvc); err != nil {
			return err
		}
	}

	states := statestore.New()
	deviceRegistry := registry.New(db, states, cfg.HeartbeatInterval)
	if err := deviceRegistry.Prime(ctx); err != nil {
		return err
	}

	generator := schedule.NewGenerator(db, loc)
	trigger := dispense.NewTrigger(db, deviceRegistry, states, cfg.ScanInterval, cfg.EffectiveDispatchTimeout(), cfg.DispatchRetryMax)
	manual := dispense.NewManual(db, deviceRegistry, states)

	eg.Go(func() error {
		return trigger.Run(ctx, errorChan)
	})

	eg.Go(func() error {
		return cronDbCleanup(db, errorChan)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      server.New(deviceRegistry, states, trigger, manual, generator, db, loc).Router(),
			Addr:         cfg.ListenAddr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}

		return srv.ListenAndServe()
	})

	eg.Go(func() error {
		// handle any async errors from services
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errCron) {
					logger.Error("cron error", zap.Error(err))
					return err
				}
				if strings.Contains(err.Error(), "failed to deallocate") {
					return err
				}
				logger.Error("async error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

var errCron = errors.New("cron error")

func cronDbCleanup(db *database.Database, errChan chan error) error {
	if err := db.Cleanup(contxt.NewContext(time.Minute)); err != nil {
		return err
	}

	// CRON automation
	c := cron.New()
	if _, err := c.AddFunc("CRON_TZ=Asia/Dhaka 0 3 * * *", func() {
		if err := db.Cleanup(contxt.NewContext(time.Minute)); err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			errChan <- errCron
			return
		}
		zap.L().Info("pruned resolved schedules and old events")
	}); err != nil {
		return err
	}

	c.Run()
	return nil
}
