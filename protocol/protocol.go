package protocol

import (
	"encoding/json"
	"errors"

	"rtchat/models"
)

var (
	ErrInvalidEnvelope = errors.New("invalid event envelope")
)

// Events pushed by the server.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventUsers          = "users"
	EventOnlineUsers    = "onlineUsers"
	EventMessageNew     = "message:new"
	EventMessageEdited  = "message:edited"
	EventMessageDeleted = "message:deleted"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventError          = "error"
)

// Events emitted by the client. Typing events share their names with the
// inbound ones.
const (
	EventSendMessage   = "sendMessage"
	EventEditMessage   = "editMessage"
	EventDeleteMessage = "deleteMessage"
)

// Envelope is a single frame on the push channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OnlineUser struct {
	UserID string `json:"userId"`
}

type Typing struct {
	UserID string `json:"userId"`
}

type SendMessage struct {
	Content     string `json:"content"`
	RecipientID string `json:"recipientId"`
	TempID      string `json:"tempId,omitempty"`
}

type TypingSignal struct {
	RecipientID string `json:"recipientId"`
}

type EditMessage struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessage struct {
	MessageID string `json:"messageId"`
}

// Error reports a failed client operation back to the client that issued it.
type Error struct {
	Op        string `json:"op"`
	MessageID string `json:"messageId,omitempty"`
	TempID    string `json:"tempId,omitempty"`
	Message   string `json:"message"`
}

// Encode builds a frame for event with payload marshalled as data. A nil
// payload produces a frame without data.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses a frame. The payload stays raw until the consumer knows
// which type to expect.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, ErrInvalidEnvelope
	}
	if env.Event == "" {
		return Envelope{}, ErrInvalidEnvelope
	}
	return env, nil
}

// Payload unmarshals the envelope data into v.
func (e Envelope) Payload(v any) error {
	if len(e.Data) == 0 {
		return ErrInvalidEnvelope
	}
	return json.Unmarshal(e.Data, v)
}

// Message decodes a message-carrying event.
func (e Envelope) Message() (models.Message, error) {
	var msg models.Message
	err := e.Payload(&msg)
	return msg, err
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(event string, payload any) []byte {
	frame, err := Encode(event, payload)
	if err != nil {
		panic(err)
	}
	return frame
}

// OnlineIDs flattens an onlineUsers payload.
func OnlineIDs(list []OnlineUser) []string {
	ids := make([]string, 0, len(list))
	for _, u := range list {
		if u.UserID != "" {
			ids = append(ids, u.UserID)
		}
	}
	return ids
}
