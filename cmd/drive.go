package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	bridgeclient "github.com/kychandar/robobridge/services/bridgeClient"
	"github.com/kychandar/robobridge/services/scheduler"
	"github.com/kychandar/robobridge/services/simulator"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

const twistType = "geometry_msgs/Twist"

var ErrConnectTimeout = errors.New("bridge not connected in time")

type driveOptions struct {
	url      string
	linear   float64
	angular  float64
	duration time.Duration
	rate     float64
	connect  time.Duration
}

var (
	driveOpts driveOptions

	driveCmd = &cobra.Command{
		Use:   "drive",
		Short: "Publish a velocity command for a while, then stop the robot",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(cfgFile, env)
			if err != nil {
				log.Fatalf("failed to load config: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				log.Fatalf("invalid config: %v", err)
			}
			if driveOpts.url == "" {
				driveOpts.url = cfg.Client.URL
			}

			logger, cleanup := NewAsyncLogger(cfg.Log.File, cfg.Log.Level)
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = slogctx.NewCtx(ctx, logger)

			client := bridgeclient.New(bridgeclient.Options{URL: driveOpts.url, Backoff: cfg.Backoff()})
			if err := client.Connect(ctx); err != nil {
				log.Fatalf("drive: %v", err)
			}
			defer client.Disconnect()

			if err := runDrive(ctx, client, clockwork.NewRealClock(), driveOpts); err != nil {
				log.Fatalf("drive: %v", err)
			}
		},
	}
)

func init() {
	f := driveCmd.Flags()
	f.StringVar(&driveOpts.url, "url", "", "bridge endpoint (default: client.url)")
	f.Float64Var(&driveOpts.linear, "linear", 0.2, "forward speed in m/s")
	f.Float64Var(&driveOpts.angular, "angular", 0, "turn rate in rad/s")
	f.DurationVar(&driveOpts.duration, "duration", 5*time.Second, "how long to drive")
	f.Float64Var(&driveOpts.rate, "rate", 10, "command rate in Hz")
	f.DurationVar(&driveOpts.connect, "connect-timeout", 10*time.Second, "wait this long for the bridge")
	rootCmd.AddCommand(driveCmd)
}

type commandPublisher interface {
	State() bridgeclient.State
	Publish(ctx context.Context, topic common.TopicName, msgType string, payload any) error
}

func waitConnected(ctx context.Context, p commandPublisher, clock clockwork.Clock, timeout time.Duration) error {
	deadline := clock.NewTimer(timeout)
	defer deadline.Stop()
	poll := clock.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for p.State() != bridgeclient.Connected {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.Chan():
			return ErrConnectTimeout
		case <-poll.Chan():
		}
	}
	return nil
}

// runDrive publishes the twist at opts.rate until opts.duration elapses or
// ctx ends, then publishes a zero twist.
func runDrive(ctx context.Context, p commandPublisher, clock clockwork.Clock, opts driveOptions) error {
	if opts.rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", opts.rate)
	}
	logger := slogctx.FromCtx(ctx)
	if err := waitConnected(ctx, p, clock, opts.connect); err != nil {
		return err
	}

	twist := simulator.TwistMsg{
		Linear:  simulator.Point{X: opts.linear},
		Angular: simulator.Point{Z: opts.angular},
	}
	send := func(ctx context.Context, msg simulator.TwistMsg) {
		if err := p.Publish(ctx, common.TopicCmdVel, twistType, msg); err != nil {
			logger.Warn("velocity command not sent", "error", err)
		}
	}

	ticker := clock.NewTicker(scheduler.IntervalForRate(opts.rate))
	defer ticker.Stop()
	done := clock.NewTimer(opts.duration)
	defer done.Stop()

	logger.Info("driving", "linear", opts.linear, "angular", opts.angular, "duration", opts.duration)
	send(ctx, twist)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-done.Chan():
			break loop
		case <-ticker.Chan():
			send(ctx, twist)
		}
	}

	// the stop command goes out even when ctx was cancelled
	if err := p.Publish(context.WithoutCancel(ctx), common.TopicCmdVel, twistType, simulator.TwistMsg{}); err != nil {
		return fmt.Errorf("stop command: %w", err)
	}
	logger.Info("stopped")
	return nil
}
