// Package simulator models one simulated robot: its physical state, the
// fixed-tick integrator advancing it, and the per-topic payload generators
// reading it.
package simulator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	slogctx "github.com/veqryn/slog-context"
)

const (
	DefaultTick = 100 * time.Millisecond

	ScanPoints   = 1440
	ScanRangeMin = 0.1
	ScanRangeMax = 25.0

	BatteryFloor        = 20.0
	BatteryDrainPerTick = 0.01

	gravity = 9.81
)

type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

type Velocity struct {
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	VTheta float64 `json:"vtheta"`
}

type IMUSample struct {
	AccX  float64 `json:"acc_x"`
	AccY  float64 `json:"acc_y"`
	AccZ  float64 `json:"acc_z"`
	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`
}

type ScanPoint struct {
	Angle     float64 `json:"angle"`
	Range     float64 `json:"range"`
	Intensity float64 `json:"intensity"`
}

// State is a copy of the robot's physical state.
type State struct {
	Pose     Pose        `json:"pose"`
	Velocity Velocity    `json:"velocity"`
	Battery  float64     `json:"battery"`
	IMU      IMUSample   `json:"imu"`
	Scan     []ScanPoint `json:"scan,omitempty"`
}

type Options struct {
	ID   common.RobotID
	Name string
	// Seed makes the simulation reproducible. 0 picks a random seed.
	Seed  int64
	Clock clockwork.Clock
	Tick  time.Duration
}

// Robot owns the state of one simulated robot. State is mutated only by Step
// and by velocity commands; generators read copies taken under the lock.
type Robot struct {
	id    common.RobotID
	name  string
	clock clockwork.Clock
	tick  time.Duration

	mu    sync.RWMutex
	rng   *rand.Rand
	state State

	// noise feeds generator-only randomness (payload content, not state).
	noiseMu sync.Mutex
	noise   *rand.Rand
	camera  string

	ticks atomic.Int64
}

func New(opts Options) *Robot {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	if opts.Name == "" {
		opts.Name = string(opts.ID)
	}
	seed := uint64(opts.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r := &Robot{
		id:    opts.ID,
		name:  opts.Name,
		clock: opts.Clock,
		tick:  opts.Tick,
		rng:   rng,
		noise: rand.New(rand.NewPCG(seed+1, seed^0x5851f42d4c957f2d)),
	}
	r.state = State{
		Pose: Pose{
			X:     rng.Float64() * 10,
			Y:     rng.Float64() * 10,
			Theta: rng.Float64() * 2 * math.Pi,
		},
		Battery: 80 + rng.Float64()*20,
		IMU:     IMUSample{AccZ: gravity},
		Scan:    initialScan(rng),
	}
	return r
}

func initialScan(rng *rand.Rand) []ScanPoint {
	scan := make([]ScanPoint, ScanPoints)
	for i := range scan {
		angle := float64(i) / ScanPoints * 2 * math.Pi
		dist := 5 + rng.Float64()*18 - math.Abs(math.Sin(angle))*3
		scan[i] = ScanPoint{Angle: angle, Range: math.Max(ScanRangeMin, dist)}
	}
	return scan
}

func (r *Robot) ID() common.RobotID {
	return r.id
}

func (r *Robot) Name() string {
	return r.name
}

func (r *Robot) Tick() time.Duration {
	return r.tick
}

// Ticks returns the number of integrator steps taken so far.
func (r *Robot) Ticks() int64 {
	return r.ticks.Load()
}

// Snapshot returns a deep copy of the current state.
func (r *Robot) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Scan = make([]ScanPoint, len(r.state.Scan))
	copy(s.Scan, r.state.Scan)
	return s
}

// Kinematics returns the state without the scan, which is cheaper to copy.
func (r *Robot) Kinematics() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.state
	s.Scan = nil
	return s
}

// SetVelocity replaces the commanded velocity. Last write wins.
func (r *Robot) SetVelocity(v Velocity) {
	r.mu.Lock()
	r.state.Velocity = v
	r.mu.Unlock()
}

// ApplyTwist applies a geometry_msgs/Twist command payload.
func (r *Robot) ApplyTwist(msg json.RawMessage) error {
	tw, err := ds.DecodeTwist(msg)
	if err != nil {
		return err
	}
	r.SetVelocity(Velocity{VX: tw.Linear.X, VY: tw.Linear.Y, VTheta: tw.Angular.Z})
	return nil
}

// Step advances the state by dt seconds with forward Euler integration and
// resamples the sensor noise.
func (r *Robot) Step(dt float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.state
	s.Pose.X += s.Velocity.VX * dt
	s.Pose.Y += s.Velocity.VY * dt
	s.Pose.Theta += s.Velocity.VTheta * dt

	if s.Battery > BatteryFloor {
		s.Battery = math.Max(BatteryFloor, s.Battery-BatteryDrainPerTick)
	}

	s.IMU.AccX = (r.rng.Float64() - 0.5) * 0.5
	s.IMU.AccY = (r.rng.Float64() - 0.5) * 0.5
	s.IMU.GyroZ = (r.rng.Float64() - 0.5) * 0.1

	for i := range s.Scan {
		p := &s.Scan[i]
		p.Range += (r.rng.Float64() - 0.5) * 0.2
		p.Range = math.Min(ScanRangeMax, math.Max(ScanRangeMin, p.Range))
		p.Intensity = r.rng.Float64() * 255
	}
	r.ticks.Add(1)
}

// Run steps the robot once per tick until ctx is done.
func (r *Robot) Run(ctx context.Context) {
	logger := slogctx.FromCtx(ctx).With("component", "simulator", "robot", r.id)
	logger.InfoContext(ctx, "starting integrator", "tick", r.tick.String())

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()
	dt := r.tick.Seconds()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "integrator stopped", "ticks", r.Ticks())
			return
		case <-ticker.Chan():
			r.Step(dt)
		}
	}
}
