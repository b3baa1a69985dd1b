// Package jsonschema adapts santhosh-tekuri/jsonschema/v5 into a
// providers.Provider: compilation (validation), fingerprinting, field
// extraction, and property-level compatibility checking.
package jsonschema

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
)

const DialectTag = "json"

type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Type() string { return DialectTag }

func (p *Provider) Fingerprint(text string) ([]byte, error) {
	if _, err := compile(text); err != nil {
		return nil, err
	}
	// Canonicalize via a parse/re-marshal round trip so key order in
	// the source text does not affect the fingerprint.
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize schema: %w", err)
	}
	sum := sha256.Sum256(canon)
	return sum[:], nil
}

func (p *Provider) Fields(text string) ([]domain.FieldDescriptor, error) {
	if _, err := compile(text); err != nil {
		return nil, err
	}
	props := schemaProperties(text)
	out := make([]domain.FieldDescriptor, 0, len(props))
	for name, info := range props {
		out = append(out, domain.FieldDescriptor{Name: name, Type: info.type_})
	}
	return out, nil
}

func (p *Provider) IsCompatible(candidate string, existing []string, policy domain.CompatibilityPolicy) (bool, error) {
	if _, err := compile(candidate); err != nil {
		return false, err
	}
	newProps := schemaProperties(candidate)

	for _, text := range existing {
		oldProps := schemaProperties(text)

		switch policy {
		case domain.CompatibilityNone:
			continue
		case domain.CompatibilityBackward:
			if ok, _ := isBackwardCompatible(oldProps, newProps); !ok {
				return false, nil
			}
		case domain.CompatibilityForward:
			if ok, _ := isForwardCompatible(oldProps, newProps); !ok {
				return false, nil
			}
		case domain.CompatibilityFull, domain.CompatibilityBoth:
			back, _ := isBackwardCompatible(oldProps, newProps)
			fwd, _ := isForwardCompatible(oldProps, newProps)
			if !back || !fwd {
				return false, nil
			}
		default:
			continue
		}
	}
	return true, nil
}

func compile(schemaStr string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(schemaStr))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	return schema, nil
}

type propertyInfo struct {
	required bool
	type_    string
}

func schemaProperties(schemaStr string) map[string]propertyInfo {
	props := make(map[string]propertyInfo)

	var schemaMap map[string]any
	if err := json.Unmarshal([]byte(schemaStr), &schemaMap); err != nil {
		return props
	}

	properties, ok := schemaMap["properties"].(map[string]any)
	if !ok {
		return props
	}

	required := make(map[string]bool)
	if requiredProps, ok := schemaMap["required"].([]any); ok {
		for _, req := range requiredProps {
			if name, ok := req.(string); ok {
				required[name] = true
			}
		}
	}

	for name, prop := range properties {
		propMap, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		type_ := "object"
		if t, ok := propMap["type"].(string); ok {
			type_ = t
		}
		props[name] = propertyInfo{required: required[name], type_: type_}
	}
	return props
}

func isBackwardCompatible(oldProps, newProps map[string]propertyInfo) (bool, error) {
	for name, oldProp := range oldProps {
		newProp, exists := newProps[name]
		if !exists {
			if oldProp.required {
				return false, fmt.Errorf("required property %s was removed", name)
			}
			continue
		}
		if !isTypeCompatible(oldProp.type_, newProp.type_) {
			return false, fmt.Errorf("incompatible types for property %s: %s -> %s", name, oldProp.type_, newProp.type_)
		}
		if !oldProp.required && newProp.required {
			return false, fmt.Errorf("property %s became required", name)
		}
	}
	return true, nil
}

func isForwardCompatible(oldProps, newProps map[string]propertyInfo) (bool, error) {
	for name, newProp := range newProps {
		oldProp, exists := oldProps[name]
		if !exists {
			if newProp.required {
				return false, fmt.Errorf("new required property %s was added", name)
			}
			continue
		}
		if !isTypeCompatible(newProp.type_, oldProp.type_) {
			return false, fmt.Errorf("incompatible types for property %s: %s -> %s", name, newProp.type_, oldProp.type_)
		}
		if oldProp.required && !newProp.required {
			return false, fmt.Errorf("property %s became optional", name)
		}
	}
	return true, nil
}

func isTypeCompatible(oldType, newType string) bool {
	slog.Debug("json schema type compatibility check", "oldType", oldType, "newType", newType)
	switch oldType {
	case "null", "boolean", "integer", "number", "string", "array", "object":
		return newType == oldType
	default:
		return false
	}
}
