package filestore

import (
	"context"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
)

// NATSObjectStore is a Store backed by a JetStream Object Store bucket,
// the natural sibling of the JetStream KV bucket the teacher already
// depends on for schema storage.
type NATSObjectStore struct {
	objs nats.ObjectStore
}

func NewNATSObjectStore(objs nats.ObjectStore) *NATSObjectStore {
	return &NATSObjectStore{objs: objs}
}

func (s *NATSObjectStore) Upload(_ context.Context, r io.Reader, name string) (string, error) {
	if _, err := s.objs.Put(&nats.ObjectMeta{Name: name}, r); err != nil {
		return "", fmt.Errorf("put object %s: %w", name, err)
	}
	return name, nil
}

func (s *NATSObjectStore) Download(_ context.Context, name string) (io.ReadCloser, error) {
	obj, err := s.objs.Get(name)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", name, err)
	}
	return obj, nil
}
