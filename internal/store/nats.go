package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore implements ArtifactStore on a NATS JetStream object store
// bucket, for runs that share artifacts across machines.
type NatsStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// NewNatsStore creates or binds the object store bucket for artifacts.
func NewNatsStore(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsStore, error) {
	// Use a "create-first" approach.
	objectStore, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Artifact storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			objectStore, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf(
					"failed to bind to existing object store bucket '%s': %w",
					bucketName,
					err,
				)
			}
		} else {
			// For any other error, fail.
			return nil, fmt.Errorf(
				"failed to create object store bucket '%s': %w",
				bucketName,
				err,
			)
		}
	}

	return &NatsStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            objectStore,
	}, nil
}

// Save uploads the artifact and returns its object key as the durable
// reference.
func (n *NatsStore) Save(_ context.Context, key string, data []byte) (string, error) {
	reader := bytes.NewReader(data)

	_, putErr := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, reader)
	if putErr != nil {
		return "", fmt.Errorf(
			"failed to put object '%s' to bucket '%s': %w",
			key,
			n.bucket,
			putErr,
		)
	}

	return key, nil
}

// Load retrieves an artifact from the object store.
func (n *NatsStore) Load(_ context.Context, key string) ([]byte, error) {
	obj, getErr := n.store.Get(key)
	if getErr != nil {
		return nil, fmt.Errorf(
			"failed to get object '%s' from bucket '%s': %w",
			key,
			n.bucket,
			getErr,
		)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Exists reports whether an object is present under key.
func (n *NatsStore) Exists(_ context.Context, key string) (bool, error) {
	_, infoErr := n.store.GetInfo(key)
	if infoErr == nil {
		return true, nil
	}

	if errors.Is(infoErr, nats.ErrObjectNotFound) {
		return false, nil
	}

	return false, fmt.Errorf(
		"failed to check object '%s' in bucket '%s': %w",
		key,
		n.bucket,
		infoErr,
	)
}
