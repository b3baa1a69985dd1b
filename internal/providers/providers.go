// Package providers holds the Schema Provider Registry: an in-memory
// mapping from dialect tag to a Provider capability set, built once at
// init and read-only afterward.
package providers

import (
	"fmt"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
)

// Provider is the Schema Provider contract: a dialect plugin supplying
// fingerprinting, field extraction, and a compatibility predicate.
// Validation is implicit in Fingerprint, which fails with
// regerrors.ErrInvalidSchema on unparseable text.
type Provider interface {
	// Type returns the stable dialect tag this provider handles.
	Type() string

	// Fingerprint returns a deterministic digest of text; equal bytes
	// imply semantic equality within the dialect. It also doubles as
	// validation: a parse failure is wrapped in regerrors.ErrInvalidSchema.
	Fingerprint(text string) ([]byte, error)

	// Fields extracts (name, namespace, type) triples for indexing.
	Fields(text string) ([]domain.FieldDescriptor, error)

	// IsCompatible evaluates candidate against every text in existing
	// under the given policy.
	IsCompatible(candidate string, existing []string, policy domain.CompatibilityPolicy) (bool, error)
}

// Registry dispatches by dialect tag. It is populated once at
// construction and never mutated afterward, so Get needs no locking.
type Registry struct {
	byType map[string]Provider
}

// NewRegistry builds a Registry from a fixed set of providers.
func NewRegistry(provs ...Provider) *Registry {
	r := &Registry{byType: make(map[string]Provider, len(provs))}
	for _, p := range provs {
		r.byType[p.Type()] = p
	}
	return r
}

// Get returns the provider for dialect, or ErrConfigurationError if no
// provider was registered for that tag.
func (r *Registry) Get(dialect string) (Provider, error) {
	p, ok := r.byType[dialect]
	if !ok {
		return nil, fmt.Errorf("dialect %q: %w", dialect, regerrors.ErrConfigurationError)
	}
	return p, nil
}
