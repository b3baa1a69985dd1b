// Package avro adapts hamba/avro/v2 into a providers.Provider: Avro
// schema parsing, content fingerprinting, field extraction, and
// structural compatibility checking.
package avro

import (
	"crypto/sha256"
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/nimbusdata/schema-registry/internal/domain"
	"github.com/nimbusdata/schema-registry/internal/regerrors"
)

const DialectTag = "avro"

// Provider implements providers.Provider for the Avro dialect.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Type() string { return DialectTag }

// Fingerprint parses text (which doubles as validation) and hashes its
// canonical string form, so schemas that differ only in whitespace or
// in the order of JSON attributes fingerprint identically. The order of
// record fields is kept in the canonical form, so reordering fields
// changes the fingerprint.
func (p *Provider) Fingerprint(text string) ([]byte, error) {
	schema, err := avro.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	sum := sha256.Sum256([]byte(schema.String()))
	return sum[:], nil
}

func (p *Provider) Fields(text string) ([]domain.FieldDescriptor, error) {
	schema, err := avro.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}
	record, ok := schema.(*avro.RecordSchema)
	if !ok {
		return nil, nil
	}
	out := make([]domain.FieldDescriptor, 0, len(record.Fields()))
	for _, f := range record.Fields() {
		out = append(out, domain.FieldDescriptor{
			Name:      f.Name(),
			Namespace: record.Namespace(),
			Type:      f.Type().Type().String(),
		})
	}
	return out, nil
}

func (p *Provider) IsCompatible(candidate string, existing []string, policy domain.CompatibilityPolicy) (bool, error) {
	newSchema, err := avro.Parse(candidate)
	if err != nil {
		return false, fmt.Errorf("parse avro schema: %w: %w", err, regerrors.ErrInvalidSchema)
	}

	for _, text := range existing {
		oldSchema, err := avro.Parse(text)
		if err != nil {
			return false, fmt.Errorf("parse avro schema: %w: %w", err, regerrors.ErrInvalidSchema)
		}

		switch policy {
		case domain.CompatibilityNone:
			continue
		case domain.CompatibilityBackward:
			if ok, _ := checkBackward(oldSchema, newSchema); !ok {
				return false, nil
			}
		case domain.CompatibilityForward:
			if ok, _ := checkForward(oldSchema, newSchema); !ok {
				return false, nil
			}
		case domain.CompatibilityFull, domain.CompatibilityBoth:
			back, _ := checkBackward(oldSchema, newSchema)
			fwd, _ := checkForward(oldSchema, newSchema)
			if !back || !fwd {
				return false, nil
			}
		default:
			continue
		}
	}
	return true, nil
}

func checkBackward(oldSchema, newSchema avro.Schema) (bool, error) {
	oldRec, oldOK := oldSchema.(*avro.RecordSchema)
	newRec, newOK := newSchema.(*avro.RecordSchema)
	if !oldOK || !newOK {
		return isTypeCompatible(oldSchema, newSchema), nil
	}

	newFields := fieldMap(newRec)
	for _, oldField := range oldRec.Fields() {
		newField, exists := newFields[oldField.Name()]
		if !exists {
			if oldField.HasDefault() {
				continue
			}
			return false, fmt.Errorf("required field %s removed in new schema", oldField.Name())
		}
		if !isTypeCompatible(oldField.Type(), newField.Type()) {
			return false, fmt.Errorf("incompatible type change for field %s", oldField.Name())
		}
	}
	return true, nil
}

func checkForward(oldSchema, newSchema avro.Schema) (bool, error) {
	oldRec, oldOK := oldSchema.(*avro.RecordSchema)
	newRec, newOK := newSchema.(*avro.RecordSchema)
	if !oldOK || !newOK {
		return isTypeCompatible(oldSchema, newSchema), nil
	}

	oldFields := fieldMap(oldRec)
	for _, newField := range newRec.Fields() {
		oldField, exists := oldFields[newField.Name()]
		if !exists {
			if newField.HasDefault() {
				continue
			}
			return false, fmt.Errorf("required field %s added in new schema", newField.Name())
		}
		if !isTypeCompatible(oldField.Type(), newField.Type()) {
			return false, fmt.Errorf("incompatible type change for field %s", newField.Name())
		}
	}
	return true, nil
}

func fieldMap(rec *avro.RecordSchema) map[string]*avro.Field {
	m := make(map[string]*avro.Field, len(rec.Fields()))
	for _, f := range rec.Fields() {
		m[f.Name()] = f
	}
	return m
}

func isTypeCompatible(oldSchema, newSchema avro.Schema) bool {
	oldType := oldSchema.Type()
	newType := newSchema.Type()

	switch oldType {
	case avro.Null:
		return newType == avro.Null
	case avro.Boolean:
		return newType == avro.Boolean
	case avro.Int:
		return newType == avro.Int || newType == avro.Long || newType == avro.Float || newType == avro.Double
	case avro.Long:
		return newType == avro.Long || newType == avro.Float || newType == avro.Double
	case avro.Float:
		return newType == avro.Float || newType == avro.Double
	case avro.Double:
		return newType == avro.Double
	case avro.Bytes:
		return newType == avro.Bytes || newType == avro.String
	case avro.String:
		return newType == avro.String
	case avro.Array:
		if newType != avro.Array {
			return false
		}
		return isTypeCompatible(oldSchema.(*avro.ArraySchema).Items(), newSchema.(*avro.ArraySchema).Items())
	case avro.Map:
		if newType != avro.Map {
			return false
		}
		return isTypeCompatible(oldSchema.(*avro.MapSchema).Values(), newSchema.(*avro.MapSchema).Values())
	case avro.Record:
		if newType != avro.Record {
			return false
		}
		ok, _ := checkBackward(oldSchema, newSchema)
		return ok
	case avro.Enum:
		if newType != avro.Enum {
			return false
		}
		oldSymbols := oldSchema.(*avro.EnumSchema).Symbols()
		newSymbolSet := make(map[string]bool)
		for _, s := range newSchema.(*avro.EnumSchema).Symbols() {
			newSymbolSet[s] = true
		}
		for _, s := range oldSymbols {
			if !newSymbolSet[s] {
				return false
			}
		}
		return true
	case avro.Union:
		if newType != avro.Union {
			return false
		}
		newTypeSet := make(map[string]bool)
		for _, t := range newSchema.(*avro.UnionSchema).Types() {
			newTypeSet[t.String()] = true
		}
		for _, t := range oldSchema.(*avro.UnionSchema).Types() {
			if !newTypeSet[t.String()] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
