package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_NextIDIsSequentialPerNamespace(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	id1, err := s.NextID(ctx, NamespaceSchemaMetadata)
	require.NoError(t, err)
	id2, err := s.NextID(ctx, NamespaceSchemaMetadata)
	require.NoError(t, err)
	otherID, err := s.NextID(ctx, NamespaceSchemaVersion)
	require.NoError(t, err)

	assert.Equal(t, int64(1), id1)
	assert.Equal(t, int64(2), id2)
	assert.Equal(t, int64(1), otherID)
}

func TestMemStore_AddGetFind(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, NamespaceSchemaMetadata, 1, map[string]any{"id": int64(1), "name": "orders"}))

	rec, ok, err := s.Get(ctx, NamespaceSchemaMetadata, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "orders", rec["name"])

	_, ok, err = s.Get(ctx, NamespaceSchemaMetadata, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := s.Find(ctx, NamespaceSchemaMetadata, []Filter{{Column: "name", Value: "orders"}})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	found, err = s.Find(ctx, NamespaceSchemaMetadata, []Filter{{Column: "name", Value: "nope"}})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemStore_FindMatchesAcrossJSONNumericTypes(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, NamespaceSchemaVersion, 1, map[string]any{"id": int64(1), "schemaMetadataId": int64(7)}))

	// Filters commonly carry plain Go ints while stored records may hold
	// int64 (or float64, after a JSON round trip); Find must treat them
	// as equal.
	found, err := s.Find(ctx, NamespaceSchemaVersion, []Filter{{Column: "schemaMetadataId", Value: 7}})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestMemStore_GetReturnsIndependentCopies(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, NamespaceSchemaMetadata, 1, map[string]any{"id": int64(1), "name": "orders"}))

	rec, _, err := s.Get(ctx, NamespaceSchemaMetadata, 1)
	require.NoError(t, err)
	rec["name"] = "mutated"

	rec2, _, err := s.Get(ctx, NamespaceSchemaMetadata, 1)
	require.NoError(t, err)
	assert.Equal(t, "orders", rec2["name"])
}

func TestMemStore_ListReturnsEveryRecordInNamespace(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, NamespaceSchemaMetadata, 1, map[string]any{"id": int64(1)}))
	require.NoError(t, s.Add(ctx, NamespaceSchemaMetadata, 2, map[string]any{"id": int64(2)}))

	all, err := s.List(ctx, NamespaceSchemaMetadata)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
