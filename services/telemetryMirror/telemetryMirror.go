// Package telemetrymirror fans robot state out over the pub/sub provider and
// accepts commands from it.
package telemetrymirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	"github.com/kychandar/robobridge/services/scheduler"
	"github.com/kychandar/robobridge/services/simulator"
	"github.com/kychandar/robobridge/services/topics"
	slogctx "github.com/veqryn/slog-context"
)

const DefaultInterval = 500 * time.Millisecond

// StateMessage is published on the robot's state subject.
type StateMessage struct {
	Robot     common.RobotID      `json:"robot"`
	Name      string              `json:"name"`
	Timestamp time.Time           `json:"timestamp"`
	Ticks     int64               `json:"ticks"`
	Pose      simulator.Pose      `json:"pose"`
	Velocity  simulator.Velocity  `json:"velocity"`
	Battery   float64             `json:"battery"`
	IMU       simulator.IMUSample `json:"imu"`
}

type Options struct {
	Robot     *simulator.Robot
	Registry  *topics.Registry
	Scheduler *scheduler.Scheduler
	PubSub    services.PubSubProvider
	Interval  time.Duration
}

type Mirror struct {
	robot     *simulator.Robot
	registry  *topics.Registry
	scheduler *scheduler.Scheduler
	pubsub    services.PubSubProvider
	interval  time.Duration

	stateSubj   string
	commandSubj string
	handle      *scheduler.Handle
	logger      *slog.Logger
}

func New(opts Options) *Mirror {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	id := opts.Robot.ID()
	return &Mirror{
		robot:       opts.Robot,
		registry:    opts.Registry,
		scheduler:   opts.Scheduler,
		pubsub:      opts.PubSub,
		interval:    opts.Interval,
		stateSubj:   common.RobotStateSubj(id),
		commandSubj: common.RobotCommandSubj(id),
	}
}

// Start subscribes to the command subject and starts periodic state
// publishing. Call Stop to undo both.
func (m *Mirror) Start(ctx context.Context) error {
	m.logger = slogctx.FromCtx(ctx).With("component", "telemetry-mirror", "robot", m.robot.ID())

	if err := m.pubsub.Subscribe(ctx, m.commandSubj, func(msg []byte) {
		m.handleCommand(ctx, msg)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", m.commandSubj, err)
	}

	h, err := m.scheduler.Every(m.interval, func() { m.publishState(ctx) })
	if err != nil {
		_ = m.pubsub.UnSubscribe(m.commandSubj)
		return err
	}
	m.handle = h
	m.logger.InfoContext(ctx, "mirroring telemetry", "state", m.stateSubj, "command", m.commandSubj, "interval", m.interval.String())
	return nil
}

func (m *Mirror) Stop() {
	if m.handle != nil {
		m.handle.Cancel()
		m.handle = nil
	}
	if err := m.pubsub.UnSubscribe(m.commandSubj); err != nil && m.logger != nil {
		m.logger.Debug("command unsubscribe", "error", err)
	}
}

func (m *Mirror) publishState(ctx context.Context) {
	s := m.robot.Kinematics()
	data, err := json.Marshal(StateMessage{
		Robot:     m.robot.ID(),
		Name:      m.robot.Name(),
		Timestamp: m.scheduler.Clock().Now(),
		Ticks:     m.robot.Ticks(),
		Pose:      s.Pose,
		Velocity:  s.Velocity,
		Battery:   s.Battery,
		IMU:       s.IMU,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to encode state", "error", err)
		return
	}
	if err := m.pubsub.Publish(ctx, m.stateSubj, data); err != nil {
		m.logger.WarnContext(ctx, "state not published", "error", err)
	}
}

// handleCommand applies a publish frame received on the command subject the
// same way a websocket publish is applied.
func (m *Mirror) handleCommand(ctx context.Context, msg []byte) {
	var frame ds.Frame
	if err := frame.DeserializeFrom(msg); err != nil {
		m.logger.WarnContext(ctx, "dropping undecodable command", "error", err)
		return
	}
	if err := frame.Validate(); err != nil || frame.Op != ds.OpPublish {
		m.logger.WarnContext(ctx, "dropping command that is not a publish frame", "op", frame.Op, "error", err)
		return
	}
	cfg, err := m.registry.Lookup(frame.Topic)
	if err != nil || !cfg.IsCommand() {
		m.logger.DebugContext(ctx, "ignoring command", "topic", frame.Topic)
		return
	}
	if err := cfg.Apply(frame.Msg); err != nil {
		m.logger.WarnContext(ctx, "command rejected", "topic", frame.Topic, "error", err)
	}
}
