// Package topics holds the static table of topics one bridge endpoint serves.
package topics

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/kychandar/robobridge/common"
)

var ErrTopicNotFound = errors.New("topic not found")

// TopicConfig describes one registered topic. Hz == 0 marks a command-only
// topic that is never streamed.
type TopicConfig struct {
	Name common.TopicName
	Type string
	Hz   float64
	// Generate formats the current robot state into this topic's payload.
	Generate func() any
	// Apply is set on command topics and applies a published payload.
	Apply func(msg json.RawMessage) error
}

func (c TopicConfig) IsCommand() bool {
	return c.Apply != nil
}

// Streamed reports whether subscribing starts a periodic delivery.
func (c TopicConfig) Streamed() bool {
	return c.Hz > 0 && c.Generate != nil
}

// Registry is read-only after New.
type Registry struct {
	topics map[common.TopicName]TopicConfig
	names  []common.TopicName
}

func New(configs ...TopicConfig) (*Registry, error) {
	r := &Registry{topics: make(map[common.TopicName]TopicConfig, len(configs))}
	for _, c := range configs {
		if c.Name == "" {
			return nil, fmt.Errorf("topic with type %q has no name", c.Type)
		}
		if _, dup := r.topics[c.Name]; dup {
			return nil, fmt.Errorf("topic %s registered twice", c.Name)
		}
		if c.Hz < 0 {
			return nil, fmt.Errorf("topic %s has negative rate %v", c.Name, c.Hz)
		}
		r.topics[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	sort.Slice(r.names, func(i, j int) bool { return r.names[i] < r.names[j] })
	return r, nil
}

func (r *Registry) Lookup(topic common.TopicName) (TopicConfig, error) {
	c, ok := r.topics[topic]
	if !ok {
		return TopicConfig{}, fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	return c, nil
}

// Topics returns the registered topic names in sorted order.
func (r *Registry) Topics() []common.TopicName {
	out := make([]common.TopicName, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) Len() int {
	return len(r.names)
}
