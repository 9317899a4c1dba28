package types

// canonical.go implements the deterministic JSON form used for signing.
// Canonical form: object keys in lexicographic byte order, UTF-8 strings with
// standard JSON escaping, numbers written literally as they appeared (no
// float conversion), arrays positional, no insignificant whitespace. The
// canonical form of a value is independent of the field ordering it arrived
// with, which is what lets every component verify signatures without sharing
// a serializer.

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrBadJSON is returned when a payload cannot be parsed or contains a
	// value with no canonical form.
	ErrBadJSON = errors.New("BAD_JSON: payload is not canonicalizable json")
)

// CanonicalizeJSON parses raw JSON and re-emits it in canonical form. It is
// idempotent: applying it to its own output yields identical bytes.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, ErrBadJSON
	}
	// Trailing garbage after the top-level value is rejected.
	if dec.More() {
		return nil, ErrBadJSON
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalizeObject marshals any value with encoding/json and canonicalizes
// the result. Types with custom MarshalJSON methods keep their wire form.
func CanonicalizeObject(obj interface{}) ([]byte, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, ErrBadJSON
	}
	return CanonicalizeJSON(raw)
}

// writeCanonical emits a parsed JSON value in canonical form.
func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return ErrBadJSON
		}
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
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
			kb, err := json.Marshal(k)
			if err != nil {
				return ErrBadJSON
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: value of type %T", ErrBadJSON, v)
	}
	return nil
}
