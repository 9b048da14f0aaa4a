//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	audit "verifyflow/pkg/platform/audit"
	"verifyflow/pkg/platform/audit/store/kafka"
	"verifyflow/pkg/testutil/containers"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestStore_ProducesToBroker(t *testing.T) {
	rp := containers.NewRedpandaContainer(t)
	const topic = "verification.audit.test"

	producer, err := kgo.NewClient(kgo.SeedBrokers(rp.Broker), kgo.AllowAutoTopicCreation())
	require.NoError(t, err)
	defer producer.Close()

	store := kafka.New(producer, topic)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		SessionID: "s-42",
		Action:    string(audit.EventTokenRejected),
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	fetches := consumer.PollFetches(ctx)
	require.Empty(t, fetches.Errors())

	records := fetches.Records()
	require.NotEmpty(t, records)
	require.Equal(t, "s-42", string(records[0].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(records[0].Value, &body))
	require.Equal(t, "security", body["category"])
}
