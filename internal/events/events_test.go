package events

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"WChain-Bubbles/pkg/logger"
)

func TestMemoryBusDeliversEvents(t *testing.T) {
	bus := NewMemoryBus(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		_ = bus.Consume(ctx, 2, func(_ context.Context, e TurnEvent) error {
			mu.Lock()
			got = append(got, e.MessageID)
			n := len(got)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		})
	}()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, bus.Publish(ctx, TurnEvent{MessageID: id, OccurredAt: time.Now()}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not consumed")
	}
	mu.Lock()
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, got)
	mu.Unlock()
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Close())
	assert.Error(t, bus.Publish(context.Background(), TurnEvent{}))
	require.NoError(t, bus.Close())
}

func TestMemoryBusPublishHonoursContext(t *testing.T) {
	bus := NewMemoryBus(1)
	require.NoError(t, bus.Publish(context.Background(), TurnEvent{MessageID: "fill"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, TurnEvent{MessageID: "overflow"}), context.DeadlineExceeded)
}

func TestEventRoundTripKeepsFields(t *testing.T) {
	in := TurnEvent{
		ConversationID: "c1",
		SessionID:      "s1",
		MessageID:      "m1",
		Model:          "gpt-4o-mini",
		Rounds:         2,
		Tools:          []string{"getTopHolders"},
		Source:         "model",
		Latency:        1500 * time.Millisecond,
		OccurredAt:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	body, err := encode(in)
	require.NoError(t, err)
	out, err := decode(body)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAuditHandlerWritesAuditStream(t *testing.T) {
	var buf bytes.Buffer
	logger.UseWriter(&buf, "json")

	require.NoError(t, AuditHandler()(context.Background(), TurnEvent{ConversationID: "c9", Rounds: 1}))
	assert.Contains(t, buf.String(), `"stream":"audit"`)
	assert.Contains(t, buf.String(), `"conversation_id":"c9"`)
}
