package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// EncodeList produces the canonical JSON form of a list: a compact array of
// NFC normalized strings with HTML escaping disabled. Equal lists always
// encode to identical bytes, which keeps upserts idempotent.
func EncodeList(list ListValue) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range list {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalCanonicalString(elem)
		if err != nil {
			return "", fmt.Errorf("list[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// DecodeList parses a JSON array of strings. Duplicate elements are dropped
// and every element is NFC normalized.
func DecodeList(s string) (ListValue, error) {
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	out := make(ListValue, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, elem := range raw {
		elem = norm.NFC.String(elem)
		if seen[elem] {
			continue
		}
		seen[elem] = true
		out = append(out, elem)
	}
	return out, nil
}

// marshalCanonicalString produces a JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped.
func marshalCanonicalString(s string) ([]byte, error) {
	// NFC normalize at serialization boundary
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
