// Package canonhash implements the deterministic serialization and
// content-addressing primitives the rest of the engine builds on: canonical
// JSON encoding and SHA-256 content hashing. Every fingerprint in the system
// (step fingerprints, flow fingerprints, artifact hashes, family hashes)
// passes through these two functions, so their behavior must be stable
// across Go versions, map iteration order, and process restarts.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// CanonicalJSON produces a deterministic byte representation of v:
// object keys sorted lexicographically (ASCII byte order), no insignificant
// whitespace, numbers normalized to a single representation, strings
// minimally escaped UTF-8, and array order preserved as given.
//
// v is first round-tripped through encoding/json (with UseNumber so integral
// values don't pick up a trailing ".0") to normalize it into the plain
// map[string]interface{} / []interface{} / json.Number / string / bool / nil
// shape that canonicalize walks.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonhash: marshal input: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var normalized any
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("canonhash: decode for normalization: %w", err)
	}

	var buf bytes.Buffer
	if err := canonicalize(&buf, normalized); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentHash returns the 64-character lowercase hex SHA-256 digest of b.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashValue canonicalizes v and returns the content hash of the result. It
// is the composition callers reach for most often: fingerprinting a Go value
// directly without handling the intermediate bytes themselves.
func HashValue(v any) (string, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return ContentHash(b), nil
}

func canonicalize(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return canonicalizeNumber(buf, val)
	case string:
		canonicalizeString(buf, val)
		return nil
	case []any:
		return canonicalizeArray(buf, val)
	case map[string]any:
		return canonicalizeObject(buf, val)
	default:
		return fmt.Errorf("canonhash: unsupported value type %T", v)
	}
}

func canonicalizeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}

	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("canonhash: invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonhash: non-finite number %q not representable", s)
	}

	formatted := strconv.FormatFloat(f, 'g', -1, 64)
	buf.WriteString(formatted)
	return nil
}

func canonicalizeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func canonicalizeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := canonicalize(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func canonicalizeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		canonicalizeString(buf, k)
		buf.WriteByte(':')
		if err := canonicalize(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
