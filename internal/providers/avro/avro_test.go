package avro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdata/schema-registry/internal/domain"
)

const userV1 = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`
const userV2AddedOptional = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"age","type":"int","default":0}]}`
const userV2RemovedRequired = `{"type":"record","name":"User","fields":[]}`
const userV2TypeChanged = `{"type":"record","name":"User","fields":[{"name":"name","type":"int"}]}`

func TestProvider_FingerprintIsStableAcrossAttributeOrder(t *testing.T) {
	p := New()
	reordered := `{"name":"User","fields":[{"type":"string","name":"name"}],"type":"record"}`

	fp1, err := p.Fingerprint(userV1)
	require.NoError(t, err)
	fp2, err := p.Fingerprint(reordered)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
}

func TestProvider_FingerprintRejectsInvalidSchema(t *testing.T) {
	p := New()
	_, err := p.Fingerprint(`{"type": "record"`)
	assert.Error(t, err)
}

func TestProvider_FieldsExtractsRecordFields(t *testing.T) {
	p := New()
	fields, err := p.Fields(userV1)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "name", fields[0].Name)
}

func TestProvider_IsCompatibleBackwardAllowsAddingOptionalField(t *testing.T) {
	p := New()
	ok, err := p.IsCompatible(userV2AddedOptional, []string{userV1}, domain.CompatibilityBackward)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProvider_IsCompatibleBackwardRejectsRemovingRequiredField(t *testing.T) {
	p := New()
	ok, err := p.IsCompatible(userV2RemovedRequired, []string{userV1}, domain.CompatibilityBackward)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvider_IsCompatibleBackwardRejectsIncompatibleTypeChange(t *testing.T) {
	p := New()
	ok, err := p.IsCompatible(userV2TypeChanged, []string{userV1}, domain.CompatibilityBackward)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvider_IsCompatibleNonePolicyAlwaysTrue(t *testing.T) {
	p := New()
	ok, err := p.IsCompatible(userV2TypeChanged, []string{userV1}, domain.CompatibilityNone)
	require.NoError(t, err)
	assert.True(t, ok)
}
