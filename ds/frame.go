package ds

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kychandar/robobridge/common"
)

type Op string

const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpAdvertise   Op = "advertise"
	OpPublish     Op = "publish"
	OpMessage     Op = "message"
	// OpError is only ever sent by the server.
	OpError Op = "error"
)

var (
	ErrMissingOp    = errors.New("frame has no op")
	ErrMissingTopic = errors.New("frame has no topic")
	ErrUnknownOp    = errors.New("unknown op")
)

// Frame is the wire unit: one JSON object per websocket message.
type Frame struct {
	Op    Op               `json:"op"`
	Topic common.TopicName `json:"topic,omitempty"`
	Type  string           `json:"type,omitempty"`
	Msg   json.RawMessage  `json:"msg,omitempty"`
}

// Serialize implements services.SerializableMessage.
func (f *Frame) Serialize() ([]byte, error) {
	return json.Marshal(f)
}

// DeserializeFrom implements services.SerializableMessage. The frame is
// reset first so pooled frames never carry fields of a previous decode.
func (f *Frame) DeserializeFrom(b []byte) error {
	f.Reset()
	return json.Unmarshal(b, f)
}

// GetTopic implements services.SerializableMessage.
func (f *Frame) GetTopic() common.TopicName {
	return f.Topic
}

func (f *Frame) Reset() {
	f.Op = ""
	f.Topic = ""
	f.Type = ""
	f.Msg = nil
}

// Validate checks the fields required by the frame's op.
func (f *Frame) Validate() error {
	switch f.Op {
	case "":
		return ErrMissingOp
	case OpSubscribe, OpUnsubscribe, OpAdvertise, OpPublish, OpMessage:
		if f.Topic == "" {
			return fmt.Errorf("%s: %w", f.Op, ErrMissingTopic)
		}
		return nil
	case OpError:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, f.Op)
	}
}

func NewSubscribe(topic common.TopicName, msgType string) *Frame {
	return &Frame{Op: OpSubscribe, Topic: topic, Type: msgType}
}

func NewUnsubscribe(topic common.TopicName) *Frame {
	return &Frame{Op: OpUnsubscribe, Topic: topic}
}

func NewAdvertise(topic common.TopicName, msgType string) *Frame {
	return &Frame{Op: OpAdvertise, Topic: topic, Type: msgType}
}

// NewPublish encodes payload as the msg of a publish frame.
func NewPublish(topic common.TopicName, payload any) (*Frame, error) {
	msg, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Op: OpPublish, Topic: topic, Msg: msg}, nil
}

// NewMessage encodes payload as the msg of a message frame.
func NewMessage(topic common.TopicName, payload any) (*Frame, error) {
	msg, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{Op: OpMessage, Topic: topic, Msg: msg}, nil
}

const (
	ErrCodeUnknownTopic  = "unknown_topic"
	ErrCodeInvalidFrame  = "invalid_frame"
	ErrCodeCommandFailed = "command_failed"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(topic common.TopicName, code, message string) *Frame {
	msg, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Frame{Op: OpError, Topic: topic, Msg: msg}
}

// ErrorPayload decodes the msg of an error frame.
func (f *Frame) ErrorPayload() (ErrorPayload, error) {
	var p ErrorPayload
	if f.Op != OpError {
		return p, fmt.Errorf("frame op is %q, not error", f.Op)
	}
	err := json.Unmarshal(f.Msg, &p)
	return p, err
}

func encodePayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

func NewEmpty() *Frame {
	return &Frame{}
}
