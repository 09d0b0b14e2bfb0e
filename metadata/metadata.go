// Package metadata implements the Tempo custom-metadata multimap and its
// HTTP-header wire form, plus the credential JSON codec.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package metadata

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/OneOfOne/xxhash"
	"github.com/betwixt-labs/tempo/status"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Metadata is an ordered mapping from lower-cased ASCII key to an ordered
// sequence of values. Keys ending in "-bin" carry base64-encoded binary
// values; all other keys carry printable ASCII text (0x20-0x7E).
//
// A Metadata becomes frozen once the call that owns it has committed to
// building its response/request; every mutator on a frozen
// instance fails with status.Internal.
type Metadata struct {
	keys   []string
	values map[string][]string
	frozen bool
}

// New returns an empty, mutable Metadata.
func New() *Metadata {
	return &Metadata{values: make(map[string][]string)}
}

func isBinaryKey(key string) bool { return strings.HasSuffix(key, "-bin") }

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return status.New(status.InvalidArgument, "metadata key %q must match [A-Za-z0-9._-]+", key)
	}
	return nil
}

func validateTextValue(value string) error {
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return status.New(status.InvalidArgument, "metadata value contains non-printable byte 0x%02x", value[i])
		}
	}
	return nil
}

// Append adds value under key (lower-cased), preserving insertion order.
// A value under a "-bin" key is stored exactly as given and not checked
// (AppendBinary does the base64 encoding); other values must be
// printable ASCII.
func (m *Metadata) Append(key string, value string) error {
	if m.frozen {
		return status.New(status.Internal, "metadata is frozen")
	}
	key = strings.ToLower(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if !isBinaryKey(key) {
		if err := validateTextValue(value); err != nil {
			return err
		}
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = append(m.values[key], value)
	return nil
}

// AppendBinary base64-encodes data and appends it under a "-bin" key.
func (m *Metadata) AppendBinary(key string, data []byte) error {
	if !isBinaryKey(key) {
		key += "-bin"
	}
	return m.Append(key, base64.StdEncoding.EncodeToString(data))
}

// Get returns the values for key, or nil if absent.
func (m *Metadata) Get(key string) []string {
	return m.values[strings.ToLower(key)]
}

// GetBinary base64-decodes every value stored under key.
func (m *Metadata) GetBinary(key string) ([][]byte, error) {
	if !isBinaryKey(key) {
		key += "-bin"
	}
	vals := m.Get(key)
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, status.Wrap(status.InvalidArgument, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Keys returns the ordered set of keys currently present.
func (m *Metadata) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Set replaces all values for key with a single value (clearing any
// previous entries under that key).
func (m *Metadata) Set(key, value string) error {
	if m.frozen {
		return status.New(status.Internal, "metadata is frozen")
	}
	key = strings.ToLower(key)
	if err := validateKey(key); err != nil {
		return err
	}
	if _, existed := m.values[key]; !existed {
		m.keys = append(m.keys, key)
	}
	m.values[key] = nil
	return m.Append(key, value)
}

// Freeze disables all further mutation.
func (m *Metadata) Freeze() { m.frozen = true }

// Frozen reports whether Freeze has been called.
func (m *Metadata) Frozen() bool { return m.frozen }

// IsEmpty reports whether the multimap has no entries.
func (m *Metadata) IsEmpty() bool { return len(m.keys) == 0 }

// Concat returns a new Metadata holding a's values followed by b's, key
// by key: values under a shared key are appended, never replaced, and
// neither input is modified.
func Concat(a, b *Metadata) (*Metadata, error) {
	out := New()
	for _, k := range a.keys {
		for _, v := range a.values[k] {
			if err := out.Append(k, v); err != nil {
				return nil, err
			}
		}
	}
	for _, k := range b.keys {
		for _, v := range b.values[k] {
			if err := out.Append(k, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

const pipeEscape = `\|`

func escapeValue(v string) string {
	return strings.ReplaceAll(v, "|", pipeEscape)
}

func unescapeValue(v string) string {
	return strings.ReplaceAll(v, pipeEscape, "|")
}

// ToHTTPHeader serializes m to the wire grammar:
// "key:v1,v2,...|key2:v1,...", with '|' inside a value escaped as '\|'.
func (m *Metadata) ToHTTPHeader() string {
	if m.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	for i, k := range m.keys {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(k)
		sb.WriteByte(':')
		for j, v := range m.values[k] {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(escapeValue(v))
		}
	}
	return sb.String()
}

// splitUnescaped splits s on sep, treating "\|" (pipeEscape) as a literal
// separator character rather than a split point.
func splitUnescaped(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == '|' {
			i++ // skip the escaped pipe
			continue
		}
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// FromHTTPHeader parses the wire grammar produced by ToHTTPHeader. Unknown
// keys survive the round trip unchanged.
func FromHTTPHeader(header string) (*Metadata, error) {
	m := New()
	if header == "" {
		return m, nil
	}
	for _, entry := range splitUnescaped(header, '|') {
		if entry == "" {
			continue
		}
		idx := strings.IndexByte(entry, ':')
		if idx < 0 {
			return nil, status.New(status.InvalidArgument, "malformed metadata entry %q", entry)
		}
		key := entry[:idx]
		valuesPart := entry[idx+1:]
		for _, v := range splitUnescaped(valuesPart, ',') {
			if err := m.Append(key, unescapeValue(v)); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// FingerprintHex returns a cheap, stable hash of a Metadata's wire form
// as 16 hex digits, usable as a trace/log key. Nothing else in this
// module calls it.
func (m *Metadata) FingerprintHex() string {
	sum := xxhash.ChecksumString64(m.ToHTTPHeader())
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexDigits[sum&0xf]
		sum >>= 4
	}
	return string(b)
}
