package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// computeHash calculates the SHA-256 digest of an entry's canonical form.
// Every field except Hash itself participates, with PrevHash first, so the
// digest binds the entry to its predecessor and any later field mutation
// is detectable:
//
//	SHA-256(prev_hash | sequence | entry_id | timestamp | event_type |
//	        actor | sensitivity | canonical(payload))
//
// Deterministic: the payload is rendered through canonicalJSON, which is
// independent of in-memory map iteration order. The only failure mode is
// an unserializable payload.
func computeHash(e *Entry) (string, error) {
	payload, err := canonicalJSON(e.Payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s|",
		e.PrevHash, e.Sequence, e.EntryID, e.Timestamp,
		e.EventType, e.Actor, e.Sensitivity)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON encodes v as JSON with deterministic output: object keys
// sorted, no HTML escaping, no insignificant whitespace. A nil payload
// canonicalizes to the empty object so that "no payload" has exactly one
// byte representation.
func canonicalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalizePayload rounds the payload through the JSON codec so the form
// hashed at append time is byte-identical to what verification sees after
// decoding the stored line. Numbers come back as json.Number, preserving
// literals (large integers, trailing zeros) that a float64 round trip
// would alter.
func normalizePayload(p map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Reason: fmt.Sprintf("not serializable: %v", err)}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: fmt.Sprintf("not serializable: %v", err)}
	}
	return out, nil
}

// writeCanonical recursively renders a JSON value in canonical form.
// Non-primitive Go values (structs, typed maps) are normalized through a
// marshal/unmarshal round trip before rendering.
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
			if err := writeScalar(buf, k); err != nil {
				return err
			}
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

	case json.Number:
		// Preserve the literal as-is; re-encoding via float64 could
		// change the textual form.
		buf.WriteString(val.String())
		return nil

	case string, float64, bool, nil, int, int64, uint64:
		return writeScalar(buf, val)

	default:
		// Normalize anything else (structs, typed maps/slices) into the
		// generic JSON shape and render that.
		b, err := json.Marshal(val)
		if err != nil {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("not serializable: %v", err)}
		}
		var decoded any
		if err := json.Unmarshal(b, &decoded); err != nil {
			return &ValidationError{Field: "payload", Reason: fmt.Sprintf("not serializable: %v", err)}
		}
		return writeCanonical(buf, decoded)
	}
}

// writeScalar encodes a single primitive using encoding/json, without
// HTML escaping.
func writeScalar(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return &ValidationError{Field: "payload", Reason: fmt.Sprintf("not serializable: %v", err)}
	}
	// Encoder appends a trailing newline; canonical output has none.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// verifyEntryHash recomputes an entry's digest and compares it to the
// stored Hash. Used by the Verifier's in-place mutation check.
func verifyEntryHash(e *Entry) (bool, error) {
	expected, err := computeHash(e)
	if err != nil {
		return false, err
	}
	return e.Hash == expected, nil
}
