package serdes

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/filestore"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
	"github.com/nimbusdata/schema-registry/internal/storage"
)

func newTestManager() *Manager {
	return New(storage.NewMemStore(), filestore.NewMemBlobStore())
}

func TestManager_UploadFileReturnsOnlyGeneratedID(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, err := m.UploadFile(ctx, strings.NewReader("jar-bytes"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rc, err := m.DownloadFile(ctx, id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jar-bytes", string(data))
}

func TestManager_AddAndGetSerDesInfo(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	id, err := m.AddSerDesInfo(ctx, domain.SerDesInfo{Name: "avro-ser", ClassName: "com.example.AvroSerializer", IsSerializer: true})
	require.NoError(t, err)

	info, err := m.GetSerDesInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "avro-ser", info.Name)
	assert.True(t, info.IsSerializer)
}

func TestManager_GetSerDesInfoMissingIsNotFound(t *testing.T) {
	m := newTestManager()
	_, err := m.GetSerDesInfo(context.Background(), 999)
	assert.True(t, errors.Is(err, regerrors.ErrSerDesNotFound))
}

func TestManager_MapSerDesWithSchemaRequiresExistingSerDes(t *testing.T) {
	m := newTestManager()
	err := m.MapSerDesWithSchema(context.Background(), 1, 999)
	assert.True(t, errors.Is(err, regerrors.ErrSerDesNotFound))
}

func TestManager_SchemaSerializersAndDeserializersAreClassifiedByEquality(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	serID, err := m.AddSerDesInfo(ctx, domain.SerDesInfo{Name: "ser", IsSerializer: true})
	require.NoError(t, err)
	deserID, err := m.AddSerDesInfo(ctx, domain.SerDesInfo{Name: "deser", IsSerializer: false})
	require.NoError(t, err)

	require.NoError(t, m.MapSerDesWithSchema(ctx, 42, serID))
	require.NoError(t, m.MapSerDesWithSchema(ctx, 42, deserID))

	serializers, err := m.GetSchemaSerializers(ctx, 42)
	require.NoError(t, err)
	require.Len(t, serializers, 1)
	assert.Equal(t, "ser", serializers[0].Name)

	deserializers, err := m.GetSchemaDeserializers(ctx, 42)
	require.NoError(t, err)
	require.Len(t, deserializers, 1)
	assert.Equal(t, "deser", deserializers[0].Name)
}

func TestManager_MappingSamePairTwiceIsIdempotent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	serID, err := m.AddSerDesInfo(ctx, domain.SerDesInfo{Name: "ser", IsSerializer: true})
	require.NoError(t, err)

	require.NoError(t, m.MapSerDesWithSchema(ctx, 7, serID))
	require.NoError(t, m.MapSerDesWithSchema(ctx, 7, serID))

	serializers, err := m.GetSchemaSerializers(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, serializers, 1)
}

func TestManager_DownloadJarResolvesBoundFile(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	fileID, err := m.UploadFile(ctx, strings.NewReader("bytecode"))
	require.NoError(t, err)
	serID, err := m.AddSerDesInfo(ctx, domain.SerDesInfo{Name: "ser", FileID: fileID, IsSerializer: true})
	require.NoError(t, err)

	rc, err := m.DownloadJar(ctx, serID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bytecode", string(data))
}
