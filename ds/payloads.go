package ds

import (
	"encoding/json"
	"fmt"
	"time"
)

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist is the geometry_msgs/Twist velocity command.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// DecodeTwist decodes a velocity command. Absent fields are zero.
func DecodeTwist(msg json.RawMessage) (Twist, error) {
	var t Twist
	if len(msg) == 0 {
		return t, fmt.Errorf("decode twist: empty payload")
	}
	if err := json.Unmarshal(msg, &t); err != nil {
		return t, fmt.Errorf("decode twist: %w", err)
	}
	return t, nil
}

// LatestValue is the most recent payload delivered for a topic.
type LatestValue struct {
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}
