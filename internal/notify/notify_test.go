// Package notify_test tests the NATS progress publisher.
package notify_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/notify"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestPublisher_ItemProgress(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	log, logErr := logger.New(t.TempDir(), "test.log")
	require.NoError(t, logErr)

	defer func() { _ = log.Close() }()

	subject := "podcast.progress"

	sub, subErr := natsConnection.SubscribeSync(subject)
	require.NoError(t, subErr)

	publisher := notify.New(natsConnection, subject, log)
	require.NotEmpty(t, publisher.WorkflowID())

	publisher.ItemProgress(notify.StageScript, "Chapter 1", "completed", "")

	msg, nextErr := sub.NextMsg(5 * time.Second)
	require.NoError(t, nextErr)

	var event notify.ItemProgressEvent

	unmarshalErr := json.Unmarshal(msg.Data, &event)
	require.NoError(t, unmarshalErr)

	require.Equal(t, notify.StageScript, event.Stage)
	require.Equal(t, "Chapter 1", event.ItemTitle)
	require.Equal(t, "completed", event.Status)
	require.Equal(t, publisher.WorkflowID(), event.Header.WorkflowID)
	require.NotEmpty(t, event.Header.EventID)
}

func TestPublisher_NilSafe(t *testing.T) {
	t.Parallel()

	var publisher *notify.Publisher

	require.Empty(t, publisher.WorkflowID())
	publisher.ItemProgress(notify.StageAudio, "Chapter 1", "failed", "boom")
}
