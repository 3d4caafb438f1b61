package simulator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRobot(t *testing.T, clock clockwork.Clock) *Robot {
	t.Helper()
	return New(Options{ID: "turtlebot-test", Name: "TurtleBot Test", Seed: 42, Clock: clock})
}

func TestNewInitialState(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	s := r.Snapshot()

	assert.GreaterOrEqual(t, s.Pose.X, 0.0)
	assert.Less(t, s.Pose.X, 10.0)
	assert.GreaterOrEqual(t, s.Pose.Y, 0.0)
	assert.Less(t, s.Pose.Y, 10.0)
	assert.GreaterOrEqual(t, s.Battery, 80.0)
	assert.Less(t, s.Battery, 100.0)
	assert.Equal(t, gravity, s.IMU.AccZ)
	require.Len(t, s.Scan, ScanPoints)
	for _, p := range s.Scan {
		assert.GreaterOrEqual(t, p.Range, ScanRangeMin)
	}
	assert.Equal(t, DefaultTick, r.Tick())
	assert.Equal(t, "TurtleBot Test", r.Name())
}

func TestSeedIsReproducible(t *testing.T) {
	a := New(Options{ID: "a", Seed: 7})
	b := New(Options{ID: "b", Seed: 7})
	assert.Equal(t, a.Snapshot().Pose, b.Snapshot().Pose)
	a.Step(0.1)
	b.Step(0.1)
	assert.Equal(t, a.Snapshot().IMU, b.Snapshot().IMU)
}

func TestApplyTwistMovesForward(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	before := r.Snapshot().Pose

	require.NoError(t, r.ApplyTwist(json.RawMessage(`{"linear":{"x":0.5,"y":0,"z":0},"angular":{"x":0,"y":0,"z":0}}`)))
	r.Step(r.Tick().Seconds())
	r.Step(r.Tick().Seconds())

	after := r.Snapshot().Pose
	assert.Greater(t, after.X, before.X)
	assert.InDelta(t, before.X+0.1, after.X, 1e-9)
	assert.Equal(t, before.Theta, after.Theta)
	assert.Equal(t, before.Y, after.Y)
}

func TestApplyTwistMissingFieldsAreZero(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	r.SetVelocity(Velocity{VX: 1, VY: 1, VTheta: 1})

	require.NoError(t, r.ApplyTwist(json.RawMessage(`{"angular":{"z":0.3}}`)))
	assert.Equal(t, Velocity{VTheta: 0.3}, r.Kinematics().Velocity)
}

func TestApplyTwistRejectsGarbage(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	r.SetVelocity(Velocity{VX: 1})

	assert.Error(t, r.ApplyTwist(json.RawMessage(`"forward"`)))
	assert.Error(t, r.ApplyTwist(nil))
	assert.Equal(t, Velocity{VX: 1}, r.Kinematics().Velocity)
}

func TestBatteryDrainsToFloor(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	prev := r.Kinematics().Battery
	for i := 0; i < 10000; i++ {
		r.Step(0.1)
		cur := r.Kinematics().Battery
		require.LessOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, BatteryFloor, prev)
	assert.EqualValues(t, 10000, r.Ticks())
}

func TestNoiseIsBounded(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	for i := 0; i < 200; i++ {
		r.Step(0.1)
		s := r.Snapshot()
		assert.LessOrEqual(t, s.IMU.AccX, 0.25)
		assert.GreaterOrEqual(t, s.IMU.AccX, -0.25)
		assert.LessOrEqual(t, s.IMU.AccY, 0.25)
		assert.GreaterOrEqual(t, s.IMU.AccY, -0.25)
		assert.LessOrEqual(t, s.IMU.GyroZ, 0.05)
		assert.GreaterOrEqual(t, s.IMU.GyroZ, -0.05)
		for _, p := range s.Scan {
			if p.Range < ScanRangeMin || p.Range > ScanRangeMax {
				t.Fatalf("range %v out of bounds", p.Range)
			}
			if p.Intensity < 0 || p.Intensity >= 255 {
				t.Fatalf("intensity %v out of bounds", p.Intensity)
			}
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := newTestRobot(t, clockwork.NewFakeClock())
	s := r.Snapshot()
	s.Scan[0].Range = -1
	s.Pose.X = -100
	assert.NotEqual(t, -1.0, r.Snapshot().Scan[0].Range)
	assert.NotEqual(t, -100.0, r.Snapshot().Pose.X)
}

func TestRunStepsOnClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRobot(t, clock)
	r.SetVelocity(Velocity{VX: 1})
	x0 := r.Kinematics().Pose.X

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	for i := 1; i <= 3; i++ {
		clock.Advance(DefaultTick)
		want := int64(i)
		require.Eventually(t, func() bool { return r.Ticks() >= want }, time.Second, time.Millisecond)
	}
	assert.InDelta(t, x0+0.3, r.Kinematics().Pose.X, 1e-9)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
