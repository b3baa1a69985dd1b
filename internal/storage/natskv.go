package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATSStore is a Store backed by a single JetStream KV bucket, with
// namespaced keys ("<namespace>/<id>") the way the teacher's registry
// used "subjects/"/"schemas/" key prefixes over one bucket. Unlike the
// teacher's getNextSchemaID (which scans every key in a namespace for
// the current maximum), NextID keeps one counter record per namespace
// and advances it with a compare-and-swap retry loop, so allocation is
// O(1) instead of O(n) and never revisits an id after a restart.
type NATSStore struct {
	kv nats.KeyValue
}

// NewNATSStore wraps an already-created JetStream KV bucket.
func NewNATSStore(kv nats.KeyValue) *NATSStore {
	return &NATSStore{kv: kv}
}

func recordKey(namespace string, id int64) string {
	return namespace + "/" + strconv.FormatInt(id, 10)
}

func counterKey(namespace string) string {
	return namespace + "/_nextid"
}

func (s *NATSStore) NextID(_ context.Context, namespace string) (int64, error) {
	key := counterKey(namespace)
	for {
		entry, err := s.kv.Get(key)
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
			if _, err := s.kv.Create(key, []byte("1")); err != nil {
				if errors.Is(err, nats.ErrKeyExists) {
					continue // another writer created it first; retry
				}
				return 0, fmt.Errorf("create counter %s: %w", key, err)
			}
			return 1, nil
		case err != nil:
			return 0, fmt.Errorf("get counter %s: %w", key, err)
		}

		cur, convErr := strconv.ParseInt(string(entry.Value()), 10, 64)
		if convErr != nil {
			return 0, fmt.Errorf("parse counter %s: %w", key, convErr)
		}
		next := cur + 1
		_, err = s.kv.Update(key, []byte(strconv.FormatInt(next, 10)), entry.Revision())
		if err != nil {
			continue // lost the CAS race; retry with the fresh revision
		}
		return next, nil
	}
}

func (s *NATSStore) Get(_ context.Context, namespace string, id int64) (map[string]any, bool, error) {
	entry, err := s.kv.Get(recordKey(namespace, id))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%d: %w", namespace, id, err)
	}
	var rec map[string]any
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, false, fmt.Errorf("decode %s/%d: %w", namespace, id, err)
	}
	return rec, true, nil
}

func (s *NATSStore) Find(ctx context.Context, namespace string, filters []Filter) ([]map[string]any, error) {
	all, err := s.List(ctx, namespace)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(all))
	for _, rec := range all {
		if matches(rec, filters) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *NATSStore) List(_ context.Context, namespace string) ([]map[string]any, error) {
	keys, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return []map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list keys for %s: %w", namespace, err)
	}

	prefix := namespace + "/"
	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) || strings.HasSuffix(key, "/_nextid") {
			continue
		}
		entry, err := s.kv.Get(key)
		if err != nil {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *NATSStore) Add(_ context.Context, namespace string, id int64, record map[string]any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s/%d: %w", namespace, id, err)
	}
	if _, err := s.kv.Put(recordKey(namespace, id), data); err != nil {
		return fmt.Errorf("put %s/%d: %w", namespace, id, err)
	}
	return nil
}
