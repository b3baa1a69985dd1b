// Package filestore defines the File Store Port used by the SerDes
// Binding Manager to persist serializer/deserializer artifact bytes,
// plus an in-memory implementation and a NATS JetStream Object Store
// implementation.
package filestore

import (
	"context"
	"io"
)

// Store is the File Store Port: upload a stream under a name, download
// it back by name.
type Store interface {
	Upload(ctx context.Context, r io.Reader, name string) (path string, err error)
	Download(ctx context.Context, name string) (io.ReadCloser, error)
}
