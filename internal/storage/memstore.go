package storage

import (
	"context"
	"sync"
)

// MemStore is an in-process Store, grounded on the teacher's
// MemoryKeyValue fallback: a plain map guarded by one mutex, used for
// unit tests and as a dependency-free fallback when no durable backend
// is configured.
type MemStore struct {
	mu      sync.Mutex
	records map[string]map[int64]map[string]any
	nextIDs map[string]int64
}

// NewMemStore creates an empty in-process Store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]map[int64]map[string]any),
		nextIDs: make(map[string]int64),
	}
}

func (s *MemStore) NextID(_ context.Context, namespace string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIDs[namespace]++
	return s.nextIDs[namespace], nil
}

func (s *MemStore) Get(_ context.Context, namespace string, id int64) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[namespace]
	if !ok {
		return nil, false, nil
	}
	rec, ok := bucket[id]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemStore) Find(_ context.Context, namespace string, filters []Filter) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.records[namespace]
	out := make([]map[string]any, 0, len(bucket))
	for _, rec := range bucket {
		if matches(rec, filters) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

func (s *MemStore) List(ctx context.Context, namespace string) ([]map[string]any, error) {
	return s.Find(ctx, namespace, nil)
}

func (s *MemStore) Add(_ context.Context, namespace string, id int64, record map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.records[namespace]
	if !ok {
		bucket = make(map[int64]map[string]any)
		s.records[namespace] = bucket
	}
	bucket[id] = cloneRecord(record)
	return nil
}

func matches(rec map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v, ok := rec[f.Column]
		if !ok || !equalLoose(v, f.Value) {
			return false
		}
	}
	return true
}

// equalLoose compares values that may have crossed a JSON round trip
// (so an int64 stored as a Go value may arrive back as float64).
func equalLoose(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func cloneRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
