package cmd

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	metricsregistry "github.com/kychandar/robobridge/services/metricsRegistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	slogctx "github.com/veqryn/slog-context"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func loadTestConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(yaml), 0o644))
	cfg, err := config.Load(file, "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewRobotBridge(t *testing.T) {
	cfg := loadTestConfig(t, "simulator:\n  seed: 7\n")
	metrics := metricsregistry.New()

	first, err := newRobotBridge(cfg, 0, cfg.Rates, metrics, nil, quietLogger())
	require.NoError(t, err)
	second, err := newRobotBridge(cfg, 1, cfg.Rates, metrics, nil, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, common.RobotID("turtlebot-1"), first.server.Robot())
	assert.Equal(t, common.RobotID("turtlebot-2"), second.server.Robot())
	assert.Nil(t, first.mirror, "no mirror without pubsub")
	assert.NotSame(t, first.scheduler, second.scheduler)
	assert.NotEqual(t, first.robot.Snapshot().Pose, second.robot.Snapshot().Pose, "robots get distinct seeds")
}

func TestRunServe(t *testing.T) {
	p1, p2 := freePort(t), freePort(t)
	cfg := loadTestConfig(t, `
server:
  host: 127.0.0.1
  shutdown_timeout: 2
robots:
  - {id: alpha, name: Alpha, port: `+itoa(p1)+`}
  - {id: beta, name: Beta, port: `+itoa(p2)+`}
health:
  enabled: false
`)

	ctx, cancel := context.WithCancel(slogctx.NewCtx(context.Background(), quietLogger()))
	errCh := make(chan error, 1)
	go func() { errCh <- runServe(ctx, cfg) }()

	for _, port := range []int{p1, p2} {
		url := "ws://127.0.0.1:" + itoa(port) + "/ws"
		var conn *websocket.Conn
		require.Eventually(t, func() bool {
			c, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return false
			}
			conn = c
			return true
		}, 5*time.Second, 20*time.Millisecond, url)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"subscribe","topic":"/rosout"}`)))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(data), `"topic":"/rosout"`)
		conn.Close()
	}

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not return")
	}
}
