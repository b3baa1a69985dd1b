package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/providers"
	"github.com/nimbusdata/schema-registry/internal/providers/avro"
	"github.com/nimbusdata/schema-registry/internal/providers/jsonschema"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
	"github.com/nimbusdata/schema-registry/internal/storage"
)

const userV1 = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`
const userV2 = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"age","type":"int","default":0}]}`
const userV3Incompatible = `{"type":"record","name":"User","fields":[]}`

func newTestEngine() *Engine {
	store := storage.NewMemStore()
	reg := providers.NewRegistry(avro.New(), jsonschema.New())
	return New(store, reg, 100, time.Minute)
}

func TestEngine_AddSchemaMetadataIsIdempotentOnName(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	id1, err := e.AddSchemaMetadata(ctx, meta)
	require.NoError(t, err)
	id2, err := e.AddSchemaMetadata(ctx, meta)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestEngine_SequentialVersionsAreContiguous(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	v1, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)
	v2, err := e.AddSchemaVersion(ctx, meta, userV2, "")
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)
}

func TestEngine_DedupReturnsExistingVersionWithoutConsumingANewOne(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	v1, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)
	dup, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)
	v2, err := e.AddSchemaVersion(ctx, meta, userV2, "")
	require.NoError(t, err)

	assert.Equal(t, v1, dup)
	assert.Equal(t, 2, v2)
}

func TestEngine_IncompatibleWriteIsRejectedAndDoesNotAdvanceVersion(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	_, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)

	_, err = e.AddSchemaVersion(ctx, meta, userV3Incompatible, "")
	require.True(t, errors.Is(err, regerrors.ErrIncompatibleSchema))

	latest, err := e.GetLatestSchemaVersionInfo(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestEngine_AddSchemaVersionByNameRequiresExistingMetadata(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.AddSchemaVersionByName(ctx, "unregistered", userV1, "")
	assert.True(t, errors.Is(err, regerrors.ErrSchemaNotFound))
}

func TestEngine_ConcurrentWritersToSameNameGetDistinctContiguousVersions(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "json", Policy: domain.CompatibilityNone}

	schemas := []string{
		`{"type":"object","properties":{"a":{"type":"string"}}}`,
		`{"type":"object","properties":{"b":{"type":"string"}}}`,
		`{"type":"object","properties":{"c":{"type":"string"}}}`,
		`{"type":"object","properties":{"d":{"type":"string"}}}`,
	}

	var wg sync.WaitGroup
	versions := make([]int, len(schemas))
	for i, s := range schemas {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			v, err := e.AddSchemaVersion(ctx, meta, text, "")
			require.NoError(t, err)
			versions[i] = v
		}(i, s)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, len(schemas))
	for v := 1; v <= len(schemas); v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
}

func TestEngine_GetSchemaVersionResolvesByFingerprint(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	_, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)
	v2, err := e.AddSchemaVersion(ctx, meta, userV2, "")
	require.NoError(t, err)

	resolved, err := e.GetSchemaVersion(ctx, "orders", userV2)
	require.NoError(t, err)
	assert.Equal(t, v2, resolved)
}

func TestEngine_FindSchemaMetadataQueriesMetadataNamespaceEvenWithFilters(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	_, err := e.AddSchemaMetadata(ctx, domain.SchemaMetadata{Name: "orders", Type: "avro", Group: "sales", Policy: domain.CompatibilityBackward})
	require.NoError(t, err)
	_, err = e.AddSchemaMetadata(ctx, domain.SchemaMetadata{Name: "payments", Type: "avro", Group: "finance", Policy: domain.CompatibilityBackward})
	require.NoError(t, err)

	found, err := e.FindSchemaMetadata(ctx, map[string]string{"group": "sales"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "orders", found[0].Name)
}

func TestEngine_FindSchemasWithFieldsResolvesAcrossVersions(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	_, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)
	_, err = e.AddSchemaVersion(ctx, meta, userV2, "")
	require.NoError(t, err)

	results, err := e.FindSchemasWithFields(ctx, domain.FieldQuery{Name: "age"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "orders", results[0].Name)
	assert.Equal(t, 2, results[0].Version)
}

func TestEngine_IsCompatibleChecksAgainstEveryVersionNotJustLatest(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	// v1 carries a defaulted int field that v2 drops; the candidate
	// reintroduces it as a string, which only v1 rejects.
	withLegacy := `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"legacy","type":"int","default":0}]}`
	withoutLegacy := `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`
	candidate := `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"legacy","type":"string","default":""}]}`

	_, err := e.AddSchemaVersion(ctx, meta, withLegacy, "")
	require.NoError(t, err)
	latest, err := e.AddSchemaVersion(ctx, meta, withoutLegacy, "")
	require.NoError(t, err)

	okLatest, err := e.IsCompatibleWithVersion(ctx, "orders", latest, candidate)
	require.NoError(t, err)
	assert.True(t, okLatest)

	ok, err := e.IsCompatible(ctx, "orders", candidate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_GetSchemaVersionInfoIsServedThroughCache(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	meta := domain.SchemaMetadata{Name: "orders", Type: "avro", Policy: domain.CompatibilityBackward}

	_, err := e.AddSchemaVersion(ctx, meta, userV1, "")
	require.NoError(t, err)

	info1, err := e.GetSchemaVersionInfo(ctx, "orders", 1)
	require.NoError(t, err)
	info2, err := e.GetSchemaVersionInfo(ctx, "orders", 1)
	require.NoError(t, err)

	assert.Same(t, info1, info2)
}
