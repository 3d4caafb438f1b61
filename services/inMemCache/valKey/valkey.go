package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/config"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
	"github.com/valkey-io/valkey-go"
)

// LatestStore keeps one hash per robot: field = topic, value = JSON
// encoded ds.LatestValue.
type LatestStore struct {
	client valkey.Client
	key    string
}

// NewLatestStore connects to the configured valkey nodes.
func NewLatestStore(cfg *config.Config, robot common.RobotID) (services.LatestValueStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: cfg.Valkey.Addr,
		// client side caching needs RESP3 tracking, which not every
		// deployment (or miniredis) offers
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &LatestStore{
		client: client,
		key:    common.LatestValueCacheKey(robot),
	}, nil
}

// Close gracefully shuts down the Valkey client.
func (c *LatestStore) Close() {
	if c.client == nil {
		return
	}
	c.client.Close()
}

func (c *LatestStore) Put(ctx context.Context, topic common.TopicName, value ds.LatestValue) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	cmd := c.client.B().Hset().Key(c.key).FieldValue().FieldValue(string(topic), string(data)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *LatestStore) Get(ctx context.Context, topic common.TopicName) (ds.LatestValue, bool, error) {
	var value ds.LatestValue
	cmd := c.client.B().Hget().Key(c.key).Field(string(topic)).Build()
	raw, err := c.client.Do(ctx, cmd).ToString()
	if valkey.IsValkeyNil(err) {
		return value, false, nil
	}
	if err != nil {
		return value, false, err
	}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, false, fmt.Errorf("decode latest value for %s: %w", topic, err)
	}
	return value, true, nil
}

func (c *LatestStore) Topics(ctx context.Context) ([]common.TopicName, error) {
	cmd := c.client.B().Hkeys().Key(c.key).Build()
	fields, err := c.client.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([]common.TopicName, 0, len(fields))
	for _, f := range fields {
		out = append(out, common.TopicName(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
