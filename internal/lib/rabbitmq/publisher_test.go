package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMsg struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
}

func TestPublishMessage_MarshalError(t *testing.T) {
	badMsg := struct {
		Ch chan int `json:"ch"`
	}{
		Ch: make(chan int),
	}

	err := PublishMessage(nil, "", "q", badMsg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.PublishMessage")
}

func TestPublisher_PublishAndRetry(t *testing.T) {
	ctx := context.Background()
	amqpURI := amqpURIForTest(ctx, t)

	conn, err := Connect(amqpURI, 3, time.Second)
	require.NoError(t, err)
	defer func() {
		if err := conn.Close(); err != nil {
			t.Errorf("failed to close connection: %v", err)
		}
	}()

	ch, err := SetupChannel(conn, GetGenerationQueues(map[string]time.Duration{
		"itinerary": 500 * time.Millisecond,
	}), 0)
	require.NoError(t, err)
	_, err = ch.QueuePurge(QueueName("itinerary"), false)
	require.NoError(t, err)

	publisher := NewPublisher(ch)

	t.Run("publish routes to work queue", func(t *testing.T) {
		msg := testMsg{JobID: "job-1"}
		require.NoError(t, publisher.Publish(ctx, "itinerary", msg))

		deliveries, err := ch.Consume(QueueName("itinerary"), "publish-consumer", true, false, false, false, nil)
		require.NoError(t, err)
		defer func() { _ = ch.Cancel("publish-consumer", false) }()

		select {
		case d := <-deliveries:
			var got testMsg
			require.NoError(t, json.Unmarshal(d.Body, &got))
			assert.Equal(t, msg, got)
			assert.Equal(t, "application/json", d.ContentType)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("retry returns to work queue after ttl", func(t *testing.T) {
		msg := testMsg{JobID: "job-2", Attempt: 1}
		start := time.Now()
		require.NoError(t, publisher.PublishRetry(ctx, "itinerary", msg))

		deliveries, err := ch.Consume(QueueName("itinerary"), "retry-consumer", true, false, false, false, nil)
		require.NoError(t, err)

		select {
		case d := <-deliveries:
			var got testMsg
			require.NoError(t, json.Unmarshal(d.Body, &got))
			assert.Equal(t, msg, got)
			assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
		case <-time.After(10 * time.Second):
			t.Fatal("timeout waiting for dead-lettered message")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := publisher.Publish(cctx, "itinerary", testMsg{JobID: "job-3"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
