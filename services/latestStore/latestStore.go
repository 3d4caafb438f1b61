// Package lateststore keeps the most recent value per topic in memory.
package lateststore

import (
	"context"
	"sort"

	"github.com/alphadose/haxmap"
	"github.com/kychandar/robobridge/common"
	"github.com/kychandar/robobridge/ds"
	"github.com/kychandar/robobridge/services"
)

type memStore struct {
	values *haxmap.Map[common.TopicName, ds.LatestValue]
}

func New() services.LatestValueStore {
	return &memStore{values: haxmap.New[common.TopicName, ds.LatestValue]()}
}

// Put overwrites the topic's value. Older values are not kept.
func (m *memStore) Put(_ context.Context, topic common.TopicName, value ds.LatestValue) error {
	m.values.Set(topic, value)
	return nil
}

func (m *memStore) Get(_ context.Context, topic common.TopicName) (ds.LatestValue, bool, error) {
	v, ok := m.values.Get(topic)
	return v, ok, nil
}

func (m *memStore) Topics(_ context.Context) ([]common.TopicName, error) {
	out := make([]common.TopicName, 0, m.values.Len())
	m.values.ForEach(func(topic common.TopicName, _ ds.LatestValue) bool {
		out = append(out, topic)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) Close() {}
