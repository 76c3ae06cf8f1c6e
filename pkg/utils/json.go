/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package utils

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// CanonicalJSON renders a JSON-serialisable value with sorted object keys
// and ASCII-only output. Two payloads that differ only in key order or
// unicode escaping hash identically.
func CanonicalJSON(value any) ([]byte, error) {
	// encoding/json sorts map keys; round-trip through a generic value so
	// struct field order cannot leak in.
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var generic any
	if err = json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	sorted, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	return escapeNonASCII(sorted), nil
}

// HashJSON returns the MD5 hex digest of the canonical form.
func HashJSON(value any) (string, error) {
	canon, err := CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canon)
	return hex.EncodeToString(sum[:]), nil
}

// ParseJSONDict accepts either a JSON object or a string containing one and
// returns the mapping form.
func ParseJSONDict(value any) (map[string]any, error) {
	switch v := value.(type) {
	case map[string]any:
		return v, nil
	case string:
		dict := map[string]any{}
		if err := json.Unmarshal([]byte(v), &dict); err != nil {
			return nil, fmt.Errorf("not a JSON object: %v", err)
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("expected a JSON object or a string containing one, got %T", value)
	}
}

func escapeNonASCII(data []byte) []byte {
	var sb strings.Builder
	sb.Grow(len(data))
	for _, r := range string(data) {
		if r < 0x80 {
			sb.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			sb.WriteString(fmt.Sprintf(`\u%04x\u%04x`, hi, lo))
			continue
		}
		sb.WriteString(fmt.Sprintf(`\u%04x`, r))
	}
	return []byte(sb.String())
}
