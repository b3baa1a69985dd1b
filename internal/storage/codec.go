package storage

import "encoding/json"

// ToRecord flattens any JSON-tagged struct into the map[string]any shape
// the Store port trades in. Numeric fields round-trip through Find's
// filters as their original Go types once FromRecord rehydrates them.
func ToRecord(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromRecord rehydrates a record map produced by ToRecord (or read back
// from a store) into the JSON-tagged struct pointed to by out.
func FromRecord(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
