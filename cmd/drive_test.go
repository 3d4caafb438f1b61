package cmd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kychandar/robobridge/common"
	bridgeclient "github.com/kychandar/robobridge/services/bridgeClient"
	"github.com/kychandar/robobridge/services/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogctx "github.com/veqryn/slog-context"
)

type recordingPublisher struct {
	mu    sync.Mutex
	state bridgeclient.State
	sent  []simulator.TwistMsg
	err   error
}

func (p *recordingPublisher) State() bridgeclient.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *recordingPublisher) Publish(_ context.Context, topic common.TopicName, msgType string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic != common.TopicCmdVel || msgType != twistType {
		panic("unexpected publish target")
	}
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, payload.(simulator.TwistMsg))
	return nil
}

func (p *recordingPublisher) commands() []simulator.TwistMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]simulator.TwistMsg(nil), p.sent...)
}

func testCtx() context.Context {
	return slogctx.NewCtx(context.Background(), quietLogger())
}

func TestRunDrive_PublishesThenStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{state: bridgeclient.Connected}
	opts := driveOptions{linear: 0.5, angular: 0.1, duration: 300 * time.Millisecond, rate: 10, connect: time.Second}

	done := make(chan error, 1)
	go func() { done <- runDrive(testCtx(), pub, clock, opts) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	var err error
	finished := false
	for i := 0; i < 20 && !finished; i++ {
		clock.Advance(100 * time.Millisecond)
		select {
		case err = <-done:
			finished = true
		case <-time.After(20 * time.Millisecond):
		}
	}
	require.True(t, finished, "runDrive did not return")
	require.NoError(t, err)

	sent := pub.commands()
	require.GreaterOrEqual(t, len(sent), 3)
	want := simulator.TwistMsg{Linear: simulator.Point{X: 0.5}, Angular: simulator.Point{Z: 0.1}}
	for _, cmd := range sent[:len(sent)-1] {
		assert.Equal(t, want, cmd)
	}
	assert.Equal(t, simulator.TwistMsg{}, sent[len(sent)-1])
}

func TestRunDrive_CancelStillStops(t *testing.T) {
	pub := &recordingPublisher{state: bridgeclient.Connected}
	ctx, cancel := context.WithCancel(testCtx())
	cancel()

	err := runDrive(ctx, pub, clockwork.NewFakeClock(), driveOptions{linear: 1, duration: time.Hour, rate: 10, connect: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []simulator.TwistMsg{
		{Linear: simulator.Point{X: 1}},
		{},
	}, pub.commands())
}

func TestRunDrive_InvalidRate(t *testing.T) {
	err := runDrive(testCtx(), &recordingPublisher{}, clockwork.NewFakeClock(), driveOptions{rate: 0})
	assert.Error(t, err)
}

func TestRunDrive_StopFailureReturned(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{state: bridgeclient.Connected, err: bridgeclient.ErrNotConnected}
	ctx, cancel := context.WithCancel(testCtx())

	done := make(chan error, 1)
	go func() { done <- runDrive(ctx, pub, clock, driveOptions{duration: time.Hour, rate: 10, connect: time.Second}) }()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 2))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, bridgeclient.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("runDrive did not return")
	}
}

func TestWaitConnected_Timeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &recordingPublisher{state: bridgeclient.Disconnected}

	done := make(chan error, 1)
	go func() { done <- waitConnected(context.Background(), pub, clock, time.Second) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(time.Second)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnectTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("waitConnected did not return")
	}
}
