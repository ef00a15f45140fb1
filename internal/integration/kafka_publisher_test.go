//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/filestore"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/kafka"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/opendata"
	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
	"github.com/couchcryptid/prtr-penalty-etl/internal/observability"
	"github.com/couchcryptid/prtr-penalty-etl/internal/pipeline"
)

const testTopic = "test-prtr-penalties"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := ctr.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestFetchStorePublish wires the open-data client, the file store and the
// Kafka writer through the pipeline and checks that every saved record is
// announced on the topic.
func TestFetchStorePublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testTopic)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Result":{"Data":[
			{"COUNTY":"高雄市","DOCUMENTNO":"21-114-070054","PENALTYDATE":"2025/07/03"},
			{"COUNTY":"臺中市","DOCUMENTNO":"30-114-000101","PENALTYDATE":"2025/08/01"}
		]}}`))
	}))
	defer srv.Close()

	loc, err := domain.LoadLocation(domain.DefaultTimezone)
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	store, err := filestore.New(filepath.Join(t.TempDir(), "sanctions"), clock, loc, discardLogger())
	require.NoError(t, err)
	client := opendata.NewClient(opendata.Options{BaseURL: srv.URL, Timeout: 10 * time.Second}, discardLogger())
	writer := kafka.NewWriter([]string{broker}, testTopic, clock, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	opts := pipeline.DefaultOptions()
	opts.PacingDelay = 0
	opts.Location = loc
	p := pipeline.New(client, store, writer, clock, discardLogger(), observability.NewMetrics(), opts)

	res, err := p.FetchAndStore(ctx, domain.QuarterPeriod(2025, 3, loc), nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.SavedCount)

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	got := map[string]kafka.Notice{}
	for len(got) < 2 {
		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		msg, err := consumer.ReadMessage(readCtx)
		readCancel()
		require.NoError(t, err, "read from topic")

		var n kafka.Notice
		require.NoError(t, json.Unmarshal(msg.Value, &n))
		assert.Equal(t, string(msg.Key), n.UniqueID)
		got[n.UniqueID] = n
	}

	require.Contains(t, got, "高雄市_21-114-070054")
	require.Contains(t, got, "臺中市_30-114-000101")
	assert.Equal(t,
		filepath.Join(store.Base(), "高雄市", "2025", "21", "070054.json"),
		got["高雄市_21-114-070054"].Path)
	assert.True(t, store.Exists("臺中市_30-114-000101"))
}
