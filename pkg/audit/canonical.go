// Package audit builds the append-only, hash-chained audit trail attached to
// every approval request.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON produces a stable byte representation of v.
// Object keys are sorted lexicographically; no extraneous whitespace.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit.CanonicalJSON marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("audit.CanonicalJSON decode: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, fmt.Errorf("audit.CanonicalJSON encode: %w", err)
	}
	return buf.Bytes(), nil
}

// writeCanonical walks a decoded JSON tree and emits objects with sorted keys.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		out, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}
