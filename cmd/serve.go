package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kychandar/robobridge/config"
	bridgehttp "github.com/kychandar/robobridge/http"
	"github.com/kychandar/robobridge/services"
	metricsregistry "github.com/kychandar/robobridge/services/metricsRegistry"
	natspubsub "github.com/kychandar/robobridge/services/pubsub/nats"
	"github.com/kychandar/robobridge/services/scheduler"
	"github.com/kychandar/robobridge/services/simulator"
	telemetrymirror "github.com/kychandar/robobridge/services/telemetryMirror"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
)

const version = "0.3.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bridge endpoint of every configured robot",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}

		logger, cleanup := NewAsyncLogger(cfg.Log.File, cfg.Log.Level)
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runServe(slogctx.NewCtx(ctx, logger), cfg); err != nil {
			logger.Error("serve failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// robotBridge is everything one robot endpoint owns.
type robotBridge struct {
	robot     *simulator.Robot
	scheduler *scheduler.Scheduler
	server    *bridgehttp.Server
	mirror    *telemetrymirror.Mirror
}

func newRobotBridge(cfg *config.Config, idx int, rates config.RatesConfig, metrics services.MetricsRegistry, pubsub services.PubSubProvider, logger *slog.Logger) (*robotBridge, error) {
	rc := cfg.Robots[idx]
	seed := cfg.Simulator.Seed
	if seed != 0 {
		seed += int64(idx)
	}
	robot := simulator.New(simulator.Options{ID: rc.ID, Name: rc.Name, Seed: seed, Tick: cfg.Tick()})
	registry, err := simulator.NewRegistry(robot, rates)
	if err != nil {
		return nil, fmt.Errorf("robot %s: %w", rc.ID, err)
	}
	sched := scheduler.New(nil)

	b := &robotBridge{
		robot:     robot,
		scheduler: sched,
		server: bridgehttp.New(bridgehttp.Options{
			Robot:           rc,
			Host:            cfg.Server.Host,
			TLS:             cfg.Server.TLS,
			ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
			FrameRate:       cfg.Server.FrameRate,
			FrameBurst:      cfg.Server.FrameBurst,
			Registry:        registry,
			Scheduler:       sched,
			Metrics:         metrics,
			Logger:          logger,
		}),
	}
	if pubsub != nil {
		b.mirror = telemetrymirror.New(telemetrymirror.Options{
			Robot:     robot,
			Registry:  registry,
			Scheduler: sched,
			PubSub:    pubsub,
			Interval:  cfg.StateInterval(),
		})
	}
	return b, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := slogctx.FromCtx(ctx)

	metrics := metricsregistry.New()
	health := bridgehttp.NewHealthChecker(logger, version)

	var pubsub services.PubSubProvider
	if cfg.PubSub.Enabled {
		p, err := natspubsub.NewNatsPubSub(cfg.PubSub.URL)
		if err != nil {
			return fmt.Errorf("connect pubsub: %w", err)
		}
		defer p.Close()
		pubsub = p
	}

	bridges := make([]*robotBridge, 0, len(cfg.Robots))
	for i := range cfg.Robots {
		b, err := newRobotBridge(cfg, i, cfg.Rates, metrics, pubsub, logger)
		if err != nil {
			return err
		}
		bridges = append(bridges, b)
		health.AddProbe(string(b.robot.ID()), b.server.Listening)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range bridges {
		g.Go(func() error {
			b.robot.Run(gctx)
			return nil
		})
		g.Go(func() error {
			return b.server.Start(gctx)
		})
		if b.mirror != nil {
			if err := b.mirror.Start(gctx); err != nil {
				logger.Error("telemetry mirror not started", "robot", b.robot.ID(), "error", err)
				continue
			}
			defer b.mirror.Stop()
		}
	}

	if cfg.Health.Enabled {
		opsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           health.OpsMux(cfg.Health.ReadinessPath, cfg.Health.LivenessPath, metrics.GetHandler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("starting health server", "port", cfg.Health.Port)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			health.SetReady(false)
			return opsServer.Close()
		})
	}

	health.SetReady(true)
	logger.Info("robot bridges started", "robots", len(bridges))

	err := g.Wait()
	if err != nil {
		logger.Error("bridge stopped unexpectedly", "error", err)
	} else {
		logger.Info("robot bridges stopped")
	}
	return err
}
