package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	"github.com/kychandar/robobridge/ds"
	bridgeclient "github.com/kychandar/robobridge/services/bridgeClient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReader struct {
	state    bridgeclient.State
	latest   map[common.TopicName]ds.LatestValue
	rejected map[common.TopicName]string
	err      error
}

func (s *stubReader) State() bridgeclient.State { return s.state }

func (s *stubReader) Latest(_ context.Context, topic common.TopicName) (ds.LatestValue, bool, error) {
	if s.err != nil {
		return ds.LatestValue{}, false, s.err
	}
	v, ok := s.latest[topic]
	return v, ok, nil
}

func (s *stubReader) Rejected(topic common.TopicName) (string, bool) {
	reason, ok := s.rejected[topic]
	return reason, ok
}

func withoutColor(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}

func TestPrintLatest(t *testing.T) {
	withoutColor(t)
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	r := &stubReader{
		state: bridgeclient.Connected,
		latest: map[common.TopicName]ds.LatestValue{
			common.TopicOdom: {Payload: json.RawMessage(`{"x":1}`), ReceivedAt: at},
		},
		rejected: map[common.TopicName]string{"/marker": "unknown topic /marker"},
	}

	var out bytes.Buffer
	printLatest(context.Background(), &out, r, []common.TopicName{common.TopicOdom, common.TopicScan, "/marker"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "[connected]", lines[0])
	assert.Equal(t, `  /odom 15:04:05 {"x":1}`, lines[1])
	assert.Equal(t, "  /scan waiting", lines[2])
	assert.Equal(t, "  /marker rejected: unknown topic /marker", lines[3])
}

func TestPrintLatest_StoreError(t *testing.T) {
	withoutColor(t)
	r := &stubReader{state: bridgeclient.Disconnected, err: errors.New("connection refused")}

	var out bytes.Buffer
	printLatest(context.Background(), &out, r, []common.TopicName{common.TopicImu})
	assert.Contains(t, out.String(), "[disconnected]")
	assert.Contains(t, out.String(), "/imu store error: connection refused")
}

func TestPreview(t *testing.T) {
	short := []byte(`{"a":1}`)
	assert.Equal(t, string(short), preview(short))

	long := bytes.Repeat([]byte("x"), previewLen+10)
	got := preview(long)
	assert.Len(t, got, previewLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestPreview_KeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; placing one across the cut point must not split it
	payload := append(bytes.Repeat([]byte("x"), previewLen-1), []byte("ééé")...)
	got := preview(payload)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("x", previewLen-1)+"...", got)
	assert.LessOrEqual(t, len(strings.TrimSuffix(got, "...")), previewLen)
}

func TestNewStore(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Client.Store = config.StoreMemory
		store, err := newStore(cfg)
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		require.NoError(t, store.Put(ctx, common.TopicOdom, ds.LatestValue{Payload: json.RawMessage(`{}`)}))
		_, ok, err := store.Get(ctx, common.TopicOdom)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("valkey", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{}
		cfg.Client.Store = config.StoreValkey
		cfg.Client.Robot = "turtlebot-1"
		cfg.Valkey.Addr = []string{mr.Addr()}
		store, err := newStore(cfg)
		require.NoError(t, err)
		defer store.Close()

		ctx := context.Background()
		require.NoError(t, store.Put(ctx, common.TopicScan, ds.LatestValue{Payload: json.RawMessage(`{"n":1}`)}))
		topics, err := store.Topics(ctx)
		require.NoError(t, err)
		assert.Equal(t, []common.TopicName{common.TopicScan}, topics)
	})
}
