package events

import (
	"context"
	"encoding/json"
	"time"

	"WChain-Bubbles/pkg/logger"
)

// TurnEvent 描述一轮已完成的对话。
type TurnEvent struct {
	ConversationID string        `json:"conversation_id"`
	SessionID      string        `json:"session_id"`
	MessageID      string        `json:"message_id"`
	Model          string        `json:"model,omitempty"`
	Rounds         int           `json:"rounds"`
	Tools          []string      `json:"tools,omitempty"`
	Source         string        `json:"source"`
	Latency        time.Duration `json:"latency_ns"`
	OccurredAt     time.Time     `json:"occurred_at"`
}

// Handler 处理消费到的事件。
type Handler func(ctx context.Context, event TurnEvent) error

// Publisher 负责发布事件。
type Publisher interface {
	Publish(ctx context.Context, event TurnEvent) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备发布与消费能力。
type Bus interface {
	Publisher
	Consumer
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 实现 Publisher。
func (Nop) Publish(context.Context, TurnEvent) error { return nil }

// Close 实现 Publisher。
func (Nop) Close() error { return nil }

// AuditHandler 把消费到的事件写入审计日志。
func AuditHandler() Handler {
	return func(_ context.Context, event TurnEvent) error {
		logger.Audit().Info("turn consumed",
			"conversation_id", event.ConversationID,
			"session_id", event.SessionID,
			"message_id", event.MessageID,
			"model", event.Model,
			"rounds", event.Rounds,
			"tools", event.Tools,
			"source", event.Source,
			"latency_ms", event.Latency.Milliseconds(),
		)
		return nil
	}
}

func encode(event TurnEvent) ([]byte, error) {
	return json.Marshal(event)
}

func decode(body []byte) (TurnEvent, error) {
	var event TurnEvent
	err := json.Unmarshal(body, &event)
	return event, err
}
