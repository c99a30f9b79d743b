// Package blobstore keeps synthesized audio in a JetStream object store so
// that remote surfaces can fetch it by key.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotFound is returned when a key does not exist in the bucket.
var ErrNotFound = errors.New("blob not found")

// Store is a JetStream object store bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// Open binds to bucket, creating it when it does not exist. Objects expire
// after ttl; zero keeps them until deleted.
func Open(js nats.JetStreamContext, bucket string, ttl time.Duration) (*Store, error) {
	store, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Synthesized audio handed to remote surfaces",
			TTL:         ttl,
			Storage:     nats.FileStorage,
			Replicas:    1,
		})
		if err != nil {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("bind object store bucket %q: %w", bucket, err)
	}
	return &Store{bucket: bucket, store: store}, nil
}

func (s *Store) Bucket() string { return s.bucket }

// Put stores data under key, replacing any previous object.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	if _, err := s.store.Put(&nats.ObjectMeta{Name: key}, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	obj, err := s.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", key, readErr)
	}
	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", key, closeErr)
	}
	return data, nil
}

// Delete removes the object stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.store.Delete(key); err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("delete object %q from bucket %q: %w", key, s.bucket, err)
	}
	return nil
}
