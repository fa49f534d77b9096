// Package canonical provides deterministic byte serialization and
// SHA-256 digests for every hashed payload in Corvusforge: ledger
// entries, anchors, artifacts' metadata, waiver signed fields, and
// envelope payloads. Identical logical values must produce identical
// bytes, and therefore identical digests, on every platform.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// CanonicalBytes serializes v into deterministic JSON: sorted map
// keys, no insignificant whitespace, UTF-8, and unambiguous number
// formatting (integers only — floats are rejected). String leaves are
// NFC-normalized so Unicode canonical equivalents hash identically.
//
// v must first be round-tripped through normalize, which also rejects
// non-finite floats and non-string map keys.
func CanonicalBytes(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "")
	if err := enc.Encode(norm); err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// HashValue is a convenience wrapper: CanonicalBytes then SHA256Hex.
func HashValue(v any) (string, error) {
	b, err := CanonicalBytes(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// normalize walks v (as produced by encoding/json's generic decode, or
// any combination of maps/slices/strings/bools/numbers/structs) and
// returns a value with:
//   - all map keys required to be strings, sorted lexicographically
//     when marshaled (the stdlib does this automatically for
//     map[string]any, which is what normalize produces);
//   - all finite integral floats converted to int64;
//   - non-finite or fractional floats rejected;
//   - all strings NFC-normalized.
//
// Structs and other Go values are first passed through a JSON
// marshal/unmarshal round trip so the same rules apply uniformly
// regardless of whether the caller handed us a struct, a map, or a
// value already decoded from JSON.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return normalizeLeaf(t), nil
	case float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return normalizeNumber(t)
	case map[string]any:
		return normalizeMap(t)
	case []any:
		return normalizeSlice(t)
	}

	// Struct, pointer, or any other Go value: round-trip through JSON
	// to get a generic representation, then normalize that.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal intermediate value: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode intermediate value: %w", err)
	}
	return normalizeDecoded(generic)
}

func normalizeLeaf(v any) any {
	if s, ok := v.(string); ok {
		return norm.NFC.String(s)
	}
	return v
}

func normalizeNumber(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return intOrError(n)
	case float32:
		return intOrError(float64(n))
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("canonical: integer %d overflows int64", n)
		}
		return int64(n), nil
	default:
		return nil, fmt.Errorf("canonical: unsupported numeric type %T", v)
	}
}

func intOrError(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("canonical: non-finite float is not hashable")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("canonical: fractional float %v is not hashable (floats forbidden in hashed payloads)", f)
	}
	return int64(f), nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[norm.NFC.String(k)] = nv
	}
	return out, nil
}

func normalizeSlice(s []any) ([]any, error) {
	out := make([]any, len(s))
	for i, v := range s {
		nv, err := normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}

// normalizeDecoded handles the shapes produced by a json.Decoder with
// UseNumber(): map[string]any, []any, json.Number, string, bool, nil.
func normalizeDecoded(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return normalizeLeaf(t), nil
	case json.Number:
		return normalizeJSONNumber(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			nv, err := normalizeDecoded(v)
			if err != nil {
				return nil, err
			}
			out[norm.NFC.String(k)] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			nv, err := normalizeDecoded(v)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("canonical: unsupported decoded type %T", v)
	}
}

func normalizeJSONNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("canonical: unparseable number %q: %w", n, err)
	}
	return intOrError(f)
}

// SortedKeys returns the keys of m in lexicographic order. Exposed for
// callers (e.g. the Merkle-style leaf builders in pkg/ledger's anchor
// logic) that need deterministic iteration order independent of
// json.Marshal's own sort.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
