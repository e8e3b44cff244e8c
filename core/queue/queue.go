// Package queue defines the envelope carried between ingress and worker and
// the producer/consumer contracts implemented by the SQS and Redis backends.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Attribute names set on every published message.
const (
	AttrEventType = "eventType"
	AttrUpdateID  = "updateId"
)

// Envelope wraps one Telegram update for asynchronous processing.
type Envelope struct {
	EventType  string          `json:"eventType"`
	Update     json.RawMessage `json:"update"`
	ReceivedAt time.Time       `json:"receivedAt"`
	// UpdateID is carried as a message attribute, not in the body.
	UpdateID int `json:"-"`
}

// Attributes returns the message attributes for e.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		AttrEventType: e.EventType,
		AttrUpdateID:  strconv.Itoa(e.UpdateID),
	}
}

// Marshal encodes e as the message body.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal envelope: %w", err)
	}
	return b, nil
}

// Decode parses a message body into an envelope.
func Decode(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("queue: decode envelope: %w", err)
	}
	return e, nil
}

// Message is a received, not yet acknowledged delivery.
type Message struct {
	ID           string
	Receipt      string
	Body         []byte
	Attributes   map[string]string
	ReceiveCount int
}

// Producer publishes envelopes.
type Producer interface {
	Publish(ctx context.Context, env Envelope) error
}

// Consumer receives batches and acknowledges processed messages.
// Messages that are not acknowledged are redelivered later.
type Consumer interface {
	Receive(ctx context.Context) ([]Message, error)
	Ack(ctx context.Context, msgs []Message) error
}

// Queue is a backend that both publishes and consumes.
type Queue interface {
	Producer
	Consumer
}
