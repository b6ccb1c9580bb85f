package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize re-encodes a JSON document with sorted object keys and no
// insignificant whitespace, so equal documents produce equal bytes.
func Canonicalize(doc json.RawMessage) ([]byte, error) {
	// json.Number keeps numeric literals exact
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode document: unexpected trailing data")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint is the hex SHA-256 of the canonical form of doc.
func Fingerprint(doc json.RawMessage) (string, error) {
	canonical, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
