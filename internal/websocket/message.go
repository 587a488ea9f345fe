package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeRecordUpdate MessageType = "record_update"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// RecordUpdatePayload tells a user's other devices that a record changed on
// the server.
type RecordUpdatePayload struct {
	ID       string `json:"_id"`
	Rev      string `json:"_rev"`
	UniqueID string `json:"unique_identifier"`
	DeviceID string `json:"device_id"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	msg := &Message{Type: msgType, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
