// Package hash implements the content-addressed state verification protocol
// of spec.md §4.1: normalize nil to {}, serialize to canonical (sorted-key,
// whitespace-free) JSON, hash with SHA-256. Grounded on
// original_source/database/state_hasher.py's StateHasher.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ComputeContentHash returns the 64-character lowercase hex SHA-256 digest of
// attributes under the canonical-JSON normalization protocol. A nil map is
// treated as empty, matching the source's None → {} rule.
func ComputeContentHash(attributes map[string]interface{}) (string, error) {
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	canonical, err := canonicalJSON(attributes)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyStateHash recomputes the hash of currentAttributes and compares it
// against recordedHash.
func VerifyStateHash(currentAttributes map[string]interface{}, recordedHash string) bool {
	current, err := ComputeContentHash(currentAttributes)
	if err != nil {
		return false
	}
	return current == recordedHash
}

// Diff describes the difference between two attribute sets: keys added,
// removed, and those whose value changed. Grounded on
// StateHasher.get_hash_diff in the original source — a supplemented feature
// (SPEC_FULL.md §12.1), not part of the core write path.
type Diff struct {
	Added    map[string]interface{}   `json:"added"`
	Removed  map[string]interface{}   `json:"removed"`
	Modified map[string]ModifiedEntry `json:"modified"`
}

// ModifiedEntry carries the before/after value of a changed key.
type ModifiedEntry struct {
	Previous interface{} `json:"previous"`
	Current  interface{} `json:"current"`
}

// GetHashDiff computes a human-readable diff between previous and current
// attribute sets.
func GetHashDiff(previous, current map[string]interface{}) Diff {
	d := Diff{
		Added:    map[string]interface{}{},
		Removed:  map[string]interface{}{},
		Modified: map[string]ModifiedEntry{},
	}

	for key, currentVal := range current {
		prevVal, existed := previous[key]
		if !existed {
			d.Added[key] = currentVal
			continue
		}
		if !jsonEqual(prevVal, currentVal) {
			d.Modified[key] = ModifiedEntry{Previous: prevVal, Current: currentVal}
		}
	}
	for key, prevVal := range previous {
		if _, stillPresent := current[key]; !stillPresent {
			d.Removed[key] = prevVal
		}
	}

	return d
}

// canonicalJSON serializes v with lexicographically sorted object keys at
// every nesting level and no insignificant whitespace, matching
// json.dumps(sort_keys=True, separators=(',', ':')) in the source.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

// normalize round-trips v through encoding/json so that values built from
// arbitrary Go types (map[string]string, structs, etc.) become the same
// decoded-JSON tree regardless of how the caller built them; json.Marshal
// then emits the tree's object keys in sorted order.
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func jsonEqual(a, b interface{}) bool {
	aj, errA := canonicalJSON(a)
	bj, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// sortedKeys is a small helper kept for callers that need a deterministic key
// order outside of JSON marshaling (e.g. building log fields).
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
