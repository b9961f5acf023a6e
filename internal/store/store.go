// Package store persists per-item pipeline artifacts (scripts and audio)
// behind a narrow interface, so runs can target the local filesystem or a
// shared NATS object store.
package store

import "context"

// ArtifactStore saves and retrieves named pipeline artifacts. Save returns
// the durable reference recorded in the manifest: an absolute path for the
// filesystem store, the object key for the NATS store.
type ArtifactStore interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Load(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}
