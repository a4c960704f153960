/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hashing implements the content hasher (spec.md C1): a
// deterministic SHA-256 over a canonical JSON rendering of a UOW's
// attribute map, chained to the previous row's hash so any auditor can
// replay a UOW's history and reproduce its current content_hash.
//
// Hashing is deliberately stdlib-only (crypto/sha256, encoding/json): it is
// a cryptographic primitive, not a concern with an idiomatic third-party
// alternative anywhere in the retrieval pack.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Canonicalize renders attrs as deterministic JSON: keys sorted, numbers in
// shortest round-trip decimal form, no insignificant whitespace. It is the
// input to both Hash and the hash chain in Chain.
func Canonicalize(attrs map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("hashing: marshal key %q: %w", k, err)
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')

		valJSON, err := canonicalValue(attrs[k])
		if err != nil {
			return nil, fmt.Errorf("hashing: marshal value for key %q: %w", k, err)
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// canonicalValue renders a single attribute value deterministically. Plain
// json.Marshal already sorts map keys and emits no extraneous whitespace
// for Go's own number/bool/string encodings, but float64 values may render
// with trailing zeros or exponents depending on magnitude, so numbers are
// special-cased to the shortest round-trip decimal form.
func canonicalValue(v any) ([]byte, error) {
	switch n := v.(type) {
	case float64:
		return []byte(formatFloat(n)), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return []byte(formatFloat(f)), nil
	default:
		return json.Marshal(v)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Hash returns the lowercase hex SHA-256 digest of the canonical attribute
// rendering (spec.md I3).
func Hash(attrs map[string]any) (string, error) {
	canon, err := Canonicalize(attrs)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Chain computes the next hash in a UOW's history chain:
// SHA256(prevHash || "\n" || canonical_attrs). prevHash is the empty string
// for the first row of a UOW (spec.md §4.1, §9 open question); it is never
// altered after that first row is written.
func Chain(prevHash string, attrs map[string]any) (string, error) {
	canon, err := Canonicalize(attrs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("\n"))
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Replay recomputes the final content_hash of a UOW by folding Chain over
// its full attribute-snapshot history in order, starting from the empty
// seed hash. Used by property test P1 to verify a UOW's stored
// content_hash against an independent replay.
func Replay(snapshots []map[string]any) (string, error) {
	prev := ""
	for _, snap := range snapshots {
		next, err := Chain(prev, snap)
		if err != nil {
			return "", err
		}
		prev = next
	}
	return prev, nil
}
