package events

import (
	"time"

	"futures-core/internal/model"
)

// Topic enumerates notification streams published by the engine.
type Topic string

const (
	TopicBar       Topic = "bar"
	TopicSignal    Topic = "signal"
	TopicFill      Topic = "fill"
	TopicRejected  Topic = "order.rejected"
	TopicAlert     Topic = "alert"
	TopicResync    Topic = "resync"
	TopicAutoTrade Topic = "auto_trade"
)

// Notice pairs a payload with the topic it was published on.
type Notice struct {
	Topic   Topic `json:"topic"`
	Payload any   `json:"payload"`
}

// Alert levels.
const (
	LevelInfo     = "info"
	LevelWarn     = "warn"
	LevelCritical = "critical"
)

// Alert is a human-readable operator message.
type Alert struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Rejection is published when the gateway refuses or fails an order.
type Rejection struct {
	Signal   model.Signal   `json:"signal"`
	Price    float64        `json:"price"`
	Error    string         `json:"error"`
	Position model.Position `json:"position"`
}

// AutoTrade is published when auto-trading is toggled.
type AutoTrade struct {
	Enabled bool      `json:"enabled"`
	Time    time.Time `json:"time"`
}
