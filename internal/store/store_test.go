// Package store_test tests the filesystem and NATS artifact stores.
package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/yheihei/pdf-to-podcast/internal/store"
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

func TestFSStore_SaveLoadExists(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	fsStore, err := store.NewFSStore(root)
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("script body")

	ref, saveErr := fsStore.Save(ctx, "scripts/chapter_01.txt", data)
	require.NoError(t, saveErr)
	require.True(t, filepath.IsAbs(ref))

	loaded, loadErr := fsStore.Load(ctx, "scripts/chapter_01.txt")
	require.NoError(t, loadErr)
	require.Equal(t, data, loaded)

	exists, existsErr := fsStore.Exists(ctx, "scripts/chapter_01.txt")
	require.NoError(t, existsErr)
	require.True(t, exists)

	missing, missingErr := fsStore.Exists(ctx, "scripts/chapter_02.txt")
	require.NoError(t, missingErr)
	require.False(t, missing)
}

func TestFSStore_LoadMissing(t *testing.T) {
	t.Parallel()

	fsStore, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)

	_, loadErr := fsStore.Load(context.Background(), "nope.txt")
	require.Error(t, loadErr)
}

func TestNatsStore_SaveLoadExists(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	natsStore, newErr := store.NewNatsStore(jetstreamContext, "podcast-artifacts")
	require.NoError(t, newErr)

	ctx := context.Background()
	data := []byte("audio bytes")

	ref, saveErr := natsStore.Save(ctx, "audio/chapter_01.wav", data)
	require.NoError(t, saveErr)
	require.Equal(t, "audio/chapter_01.wav", ref)

	loaded, loadErr := natsStore.Load(ctx, "audio/chapter_01.wav")
	require.NoError(t, loadErr)
	require.Equal(t, data, loaded)

	exists, existsErr := natsStore.Exists(ctx, "audio/chapter_01.wav")
	require.NoError(t, existsErr)
	require.True(t, exists)

	missing, missingErr := natsStore.Exists(ctx, "audio/chapter_99.wav")
	require.NoError(t, missingErr)
	require.False(t, missing)
}

func TestNatsStore_BindExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, firstErr := store.NewNatsStore(jetstreamContext, "shared-bucket")
	require.NoError(t, firstErr)

	_, saveErr := first.Save(context.Background(), "key", []byte("value"))
	require.NoError(t, saveErr)

	second, secondErr := store.NewNatsStore(jetstreamContext, "shared-bucket")
	require.NoError(t, secondErr)

	loaded, loadErr := second.Load(context.Background(), "key")
	require.NoError(t, loadErr)
	require.Equal(t, []byte("value"), loaded)
}
