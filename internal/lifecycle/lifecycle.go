// Package lifecycle implements the Schema Lifecycle Engine: the write
// path (dedup, version assignment, compatibility check, field
// indexing) and the read path (metadata/version/search lookups,
// latest-version selection, compatibility queries).
package lifecycle

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nimbusdata/schema-registry/internal/cache"
	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/providers"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
	"github.com/nimbusdata/schema-registry/internal/storage"
)

// Engine is the Schema Lifecycle Engine. Every public method may be
// called concurrently from multiple request handlers.
//
// The write gate is striped by schema metadata name rather than a
// single process-wide mutex: every ordering guarantee the write gate
// exists to uphold (I2 version monotonicity, I3 dedup, I5 field-index
// atomicity) is scoped to one logical schema, so writes to distinct
// names never need to wait on each other.
type Engine struct {
	store     storage.Store
	providers *providers.Registry
	cache     *cache.VersionCache

	writeLocks sync.Map // name string -> *sync.Mutex
}

// New builds an Engine. cacheCapacity and cacheTTL come from the
// configuration surface (schema.cache.size, schema.cache.expiry.interval).
func New(store storage.Store, provReg *providers.Registry, cacheCapacity int, cacheTTL time.Duration) *Engine {
	e := &Engine{store: store, providers: provReg}
	e.cache = cache.New(cacheCapacity, cacheTTL, e.loadVersionInfo)
	return e
}

func (e *Engine) lockFor(name string) *sync.Mutex {
	v, _ := e.writeLocks.LoadOrStore(name, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// --- write path -------------------------------------------------------

// AddSchemaMetadata is idempotent on name (I1): a second call with the
// same name returns the existing id without modifying it.
func (e *Engine) AddSchemaMetadata(ctx context.Context, meta domain.SchemaMetadata) (int64, error) {
	mu := e.lockFor(meta.Name)
	mu.Lock()
	defer mu.Unlock()
	return e.upsertMetadata(ctx, meta)
}

// upsertMetadata must be called with the per-name lock held.
func (e *Engine) upsertMetadata(ctx context.Context, meta domain.SchemaMetadata) (int64, error) {
	existing, ok, err := e.findMetadataByName(ctx, meta.Name)
	if err != nil {
		return 0, err
	}
	if ok {
		return existing.ID, nil
	}

	id, err := e.store.NextID(ctx, storage.NamespaceSchemaMetadata)
	if err != nil {
		return 0, fmt.Errorf("allocate metadata id: %w: %w", err, regerrors.ErrIOFailure)
	}
	meta.ID = id
	rec, err := storage.ToRecord(meta)
	if err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}
	if err := e.store.Add(ctx, storage.NamespaceSchemaMetadata, id, rec); err != nil {
		return 0, fmt.Errorf("persist metadata: %w: %w", err, regerrors.ErrIOFailure)
	}
	return id, nil
}

// AddSchemaVersion upserts meta, then runs the shared version-creation
// procedure against its text and description.
func (e *Engine) AddSchemaVersion(ctx context.Context, meta domain.SchemaMetadata, text, description string) (int, error) {
	mu := e.lockFor(meta.Name)
	mu.Lock()
	defer mu.Unlock()

	id, err := e.upsertMetadata(ctx, meta)
	if err != nil {
		return 0, err
	}
	full, _, err := e.getMetadataByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return e.createVersionLocked(ctx, *full, text, description)
}

// AddSchemaVersionByName requires metadata to already exist, failing
// with ErrSchemaNotFound otherwise.
func (e *Engine) AddSchemaVersionByName(ctx context.Context, name, text, description string) (int, error) {
	mu := e.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	return e.createVersionLocked(ctx, *meta, text, description)
}

// createVersionLocked implements §4.3 steps 2-7. Callers must already
// hold the per-name write lock for meta.Name.
func (e *Engine) createVersionLocked(ctx context.Context, meta domain.SchemaMetadata, text, description string) (int, error) {
	provider, err := e.providers.Get(meta.Type)
	if err != nil {
		return 0, err
	}

	fpBytes, err := provider.Fingerprint(text)
	if err != nil {
		return 0, fmt.Errorf("fingerprint schema %q: %w", meta.Name, err)
	}
	fingerprint := hex.EncodeToString(fpBytes)

	versions, err := e.versionsFor(ctx, meta.ID)
	if err != nil {
		return 0, err
	}

	// Dedup first (I3), before any id allocation, so a duplicate write
	// never consumes a version number.
	if dup := findByFingerprint(versions, fingerprint); dup != nil {
		return dup.Version, nil
	}

	latest := latestOf(versions)
	if latest != nil {
		ok, err := provider.IsCompatible(text, []string{latest.Text}, meta.Policy)
		if err != nil {
			return 0, fmt.Errorf("compatibility check for %q: %w", meta.Name, err)
		}
		if !ok {
			return 0, fmt.Errorf("schema %q version %d: %w", meta.Name, latest.Version+1, regerrors.ErrIncompatibleSchema)
		}
	}

	newVersion := 1
	if latest != nil {
		newVersion = latest.Version + 1
	}

	newID, err := e.store.NextID(ctx, storage.NamespaceSchemaVersion)
	if err != nil {
		return 0, fmt.Errorf("allocate version id: %w: %w", err, regerrors.ErrIOFailure)
	}
	versionInfo := domain.SchemaVersionInfo{
		ID:               newID,
		SchemaMetadataID: meta.ID,
		Version:          newVersion,
		Text:             text,
		Fingerprint:      fingerprint,
		Description:      description,
		Timestamp:        time.Now(),
	}
	rec, err := storage.ToRecord(versionInfo)
	if err != nil {
		return 0, fmt.Errorf("encode version: %w", err)
	}
	if err := e.store.Add(ctx, storage.NamespaceSchemaVersion, newID, rec); err != nil {
		return 0, fmt.Errorf("persist version: %w: %w", err, regerrors.ErrIOFailure)
	}

	fields, err := provider.Fields(text)
	if err != nil {
		slog.Warn("field extraction failed after version commit", "schema", meta.Name, "version", newVersion, "error", err)
		return newVersion, nil
	}
	for _, f := range fields {
		fieldID, err := e.store.NextID(ctx, storage.NamespaceFieldIndex)
		if err != nil {
			slog.Warn("field index allocation failed", "schema", meta.Name, "version", newVersion, "field", f.Name, "error", err)
			continue
		}
		row := domain.SchemaFieldIndex{
			ID:              fieldID,
			SchemaVersionID: newID,
			FieldName:       f.Name,
			FieldNamespace:  f.Namespace,
			FieldType:       f.Type,
		}
		rowRec, err := storage.ToRecord(row)
		if err != nil {
			slog.Warn("field index encode failed", "schema", meta.Name, "version", newVersion, "field", f.Name, "error", err)
			continue
		}
		if err := e.store.Add(ctx, storage.NamespaceFieldIndex, fieldID, rowRec); err != nil {
			slog.Warn("field index persist failed", "schema", meta.Name, "version", newVersion, "field", f.Name, "error", err)
		}
	}

	return newVersion, nil
}

// --- read path ----------------------------------------------------------

func (e *Engine) GetSchemaMetadata(ctx context.Context, name string) (*domain.SchemaMetadata, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	return meta, nil
}

// FindSchemaMetadata queries the metadata namespace directly, even when
// filters are supplied — the source implementation queried the version
// namespace in that case, which spec.md §9 flags as a probable bug.
func (e *Engine) FindSchemaMetadata(ctx context.Context, filters map[string]string) ([]domain.SchemaMetadata, error) {
	var storageFilters []storage.Filter
	for k, v := range filters {
		storageFilters = append(storageFilters, storage.Filter{Column: k, Value: v})
	}
	recs, err := e.store.Find(ctx, storage.NamespaceSchemaMetadata, storageFilters)
	if err != nil {
		return nil, fmt.Errorf("find schema metadata: %w: %w", err, regerrors.ErrIOFailure)
	}
	out := make([]domain.SchemaMetadata, 0, len(recs))
	for _, rec := range recs {
		var m domain.SchemaMetadata
		if err := storage.FromRecord(rec, &m); err != nil {
			return nil, fmt.Errorf("decode schema metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) FindAllVersions(ctx context.Context, name string) ([]domain.SchemaVersionInfo, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	return e.versionsFor(ctx, meta.ID)
}

func (e *Engine) GetLatestSchemaVersionInfo(ctx context.Context, name string) (*domain.SchemaVersionInfo, error) {
	versions, err := e.FindAllVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	latest := latestOf(versions)
	if latest == nil {
		return nil, fmt.Errorf("schema %q has no versions: %w", name, regerrors.ErrSchemaNotFound)
	}
	return latest, nil
}

func (e *Engine) GetSchemaVersion(ctx context.Context, name, text string) (int, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	provider, err := e.providers.Get(meta.Type)
	if err != nil {
		return 0, err
	}
	fpBytes, err := provider.Fingerprint(text)
	if err != nil {
		return 0, fmt.Errorf("fingerprint schema %q: %w", name, err)
	}
	fingerprint := hex.EncodeToString(fpBytes)

	versions, err := e.versionsFor(ctx, meta.ID)
	if err != nil {
		return 0, err
	}
	match := findByFingerprint(versions, fingerprint)
	if match == nil {
		return 0, fmt.Errorf("schema %q: no version matches text: %w", name, regerrors.ErrSchemaNotFound)
	}
	return match.Version, nil
}

func (e *Engine) GetSchemaVersionInfo(ctx context.Context, name string, version int) (*domain.SchemaVersionInfo, error) {
	return e.cache.Get(ctx, name, version)
}

// loadVersionInfo is the cache's Loader: a storage find by
// (schemaMetadataId, version).
func (e *Engine) loadVersionInfo(ctx context.Context, name string, version int) (*domain.SchemaVersionInfo, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	recs, err := e.store.Find(ctx, storage.NamespaceSchemaVersion, []storage.Filter{
		{Column: "schemaMetadataId", Value: meta.ID},
		{Column: "version", Value: version},
	})
	if err != nil {
		return nil, fmt.Errorf("find schema version: %w: %w", err, regerrors.ErrIOFailure)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("schema %q version %d: %w", name, version, regerrors.ErrSchemaNotFound)
	}
	var v domain.SchemaVersionInfo
	if err := storage.FromRecord(recs[0], &v); err != nil {
		return nil, fmt.Errorf("decode schema version: %w", err)
	}
	return &v, nil
}

func (e *Engine) FindSchemasWithFields(ctx context.Context, q domain.FieldQuery) ([]domain.SubjectVersion, error) {
	var filters []storage.Filter
	if q.Name != "" {
		filters = append(filters, storage.Filter{Column: "fieldName", Value: q.Name})
	}
	if q.Namespace != "" {
		filters = append(filters, storage.Filter{Column: "fieldNamespace", Value: q.Namespace})
	}
	if q.Type != "" {
		filters = append(filters, storage.Filter{Column: "fieldType", Value: q.Type})
	}

	rows, err := e.store.Find(ctx, storage.NamespaceFieldIndex, filters)
	if err != nil {
		return nil, fmt.Errorf("find field index: %w: %w", err, regerrors.ErrIOFailure)
	}

	seen := make(map[string]bool)
	out := make([]domain.SubjectVersion, 0, len(rows))
	for _, row := range rows {
		var idx domain.SchemaFieldIndex
		if err := storage.FromRecord(row, &idx); err != nil {
			return nil, fmt.Errorf("decode field index: %w", err)
		}
		versionRecs, err := e.store.Find(ctx, storage.NamespaceSchemaVersion, []storage.Filter{{Column: "id", Value: idx.SchemaVersionID}})
		if err != nil {
			return nil, fmt.Errorf("resolve field index version: %w: %w", err, regerrors.ErrIOFailure)
		}
		for _, vrec := range versionRecs {
			var v domain.SchemaVersionInfo
			if err := storage.FromRecord(vrec, &v); err != nil {
				continue
			}
			metaRec, ok, err := e.store.Get(ctx, storage.NamespaceSchemaMetadata, v.SchemaMetadataID)
			if err != nil || !ok {
				continue
			}
			var meta domain.SchemaMetadata
			if err := storage.FromRecord(metaRec, &meta); err != nil {
				continue
			}
			dedupKey := fmt.Sprintf("%s@%d", meta.Name, v.Version)
			if seen[dedupKey] {
				continue
			}
			seen[dedupKey] = true
			out = append(out, domain.SubjectVersion{Name: meta.Name, Version: v.Version})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// IsCompatible checks text against every existing version of name,
// under the policy stored on its metadata — contrast with the write
// path, which only checks against the latest version.
func (e *Engine) IsCompatible(ctx context.Context, name, text string) (bool, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	versions, err := e.versionsFor(ctx, meta.ID)
	if err != nil {
		return false, err
	}
	if len(versions) == 0 {
		return true, nil
	}
	provider, err := e.providers.Get(meta.Type)
	if err != nil {
		return false, err
	}
	texts := make([]string, len(versions))
	for i, v := range versions {
		texts[i] = v.Text
	}
	return provider.IsCompatible(text, texts, meta.Policy)
}

// IsCompatibleWithVersion checks text against exactly one prior version.
func (e *Engine) IsCompatibleWithVersion(ctx context.Context, name string, version int, text string) (bool, error) {
	meta, ok, err := e.findMetadataByName(ctx, name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("schema %q: %w", name, regerrors.ErrSchemaNotFound)
	}
	info, err := e.GetSchemaVersionInfo(ctx, name, version)
	if err != nil {
		return false, err
	}
	provider, err := e.providers.Get(meta.Type)
	if err != nil {
		return false, err
	}
	return provider.IsCompatible(text, []string{info.Text}, meta.Policy)
}

// --- internal helpers ----------------------------------------------------

func (e *Engine) findMetadataByName(ctx context.Context, name string) (*domain.SchemaMetadata, bool, error) {
	recs, err := e.store.Find(ctx, storage.NamespaceSchemaMetadata, []storage.Filter{{Column: "name", Value: name}})
	if err != nil {
		return nil, false, fmt.Errorf("find schema metadata: %w: %w", err, regerrors.ErrIOFailure)
	}
	if len(recs) == 0 {
		return nil, false, nil
	}
	if len(recs) > 1 {
		slog.Warn("multiple metadata rows share a name; I1 should prevent this", "name", name, "count", len(recs))
	}
	var m domain.SchemaMetadata
	if err := storage.FromRecord(recs[0], &m); err != nil {
		return nil, false, fmt.Errorf("decode schema metadata: %w", err)
	}
	return &m, true, nil
}

func (e *Engine) getMetadataByID(ctx context.Context, id int64) (*domain.SchemaMetadata, bool, error) {
	rec, ok, err := e.store.Get(ctx, storage.NamespaceSchemaMetadata, id)
	if err != nil {
		return nil, false, fmt.Errorf("get schema metadata: %w: %w", err, regerrors.ErrIOFailure)
	}
	if !ok {
		return nil, false, nil
	}
	var m domain.SchemaMetadata
	if err := storage.FromRecord(rec, &m); err != nil {
		return nil, false, fmt.Errorf("decode schema metadata: %w", err)
	}
	return &m, true, nil
}

func (e *Engine) versionsFor(ctx context.Context, schemaMetadataID int64) ([]domain.SchemaVersionInfo, error) {
	recs, err := e.store.Find(ctx, storage.NamespaceSchemaVersion, []storage.Filter{{Column: "schemaMetadataId", Value: schemaMetadataID}})
	if err != nil {
		return nil, fmt.Errorf("find schema versions: %w: %w", err, regerrors.ErrIOFailure)
	}
	out := make([]domain.SchemaVersionInfo, 0, len(recs))
	for _, rec := range recs {
		var v domain.SchemaVersionInfo
		if err := storage.FromRecord(rec, &v); err != nil {
			return nil, fmt.Errorf("decode schema version: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

func latestOf(versions []domain.SchemaVersionInfo) *domain.SchemaVersionInfo {
	if len(versions) == 0 {
		return nil
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Version > latest.Version {
			latest = v
		}
	}
	return &latest
}

// findByFingerprint returns the first version whose fingerprint matches
// fingerprint. Per spec.md §9/I3, more than one match indicates an
// internal inconsistency the engine never should have produced; it is
// logged as a warning, not raised as an error.
func findByFingerprint(versions []domain.SchemaVersionInfo, fingerprint string) *domain.SchemaVersionInfo {
	var matches []domain.SchemaVersionInfo
	for _, v := range versions {
		if v.Fingerprint == fingerprint {
			matches = append(matches, v)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		slog.Warn("duplicate fingerprint among versions; I3 should prevent this", "schemaMetadataId", matches[0].SchemaMetadataID, "fingerprint", fingerprint, "count", len(matches))
	}
	return &matches[0]
}
