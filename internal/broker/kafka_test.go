//go:build integration

package broker

import (
	"context"
	"testing"
	"time"

	"egg-market/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
)

func TestProduceConsumeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v23.3.3",
		redpanda.WithAutoCreateTopics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	seed, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	producer := NewProducer([]string{seed}, "egg-events-test")
	defer producer.Close()

	publisher := NewEventPublisher(producer)
	event := &models.OrderEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:   99,
		To:        models.OrderStatusPending,
		Total:     5500,
	}

	// The first write may race topic creation.
	require.Eventually(t, func() bool {
		return publisher.PublishOrderEvent(ctx, event) == nil
	}, 30*time.Second, time.Second)

	consumer := NewConsumer([]string{seed}, "egg-events-test", "egg-test-group")
	defer consumer.Close()

	received := make(chan *models.OrderEvent, 1)
	handler := NewEventHandler()
	handler.OnOrder(func(_ context.Context, e *models.OrderEvent) error {
		received <- e
		return nil
	})

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = consumer.StartConsuming(consumeCtx, func(ctx context.Context, msg kafka.Message) error {
			return handler.HandleMessage(ctx, msg)
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, int64(99), got.OrderID)
		assert.Equal(t, int64(5500), got.Total)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
