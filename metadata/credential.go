package metadata

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/betwixt-labs/tempo/status"
	jsoniter "github.com/json-iterator/go"
)

// Credential is an ordered mapping from string to a Value drawn from
// {string, number, boolean, bigint, nested map, list of the above}.
// Its wire form is JSON with two extensions: a bigint is a
// string suffixed "||n"; a nested map carries the reserved discriminator
// field "_map": true; any code point above 0x7E is escaped as \uXXXX.
type Credential struct {
	keys   []string
	values map[string]Value
}

func NewCredential() *Credential {
	return &Credential{values: make(map[string]Value)}
}

// Set assigns key -> v, preserving first-insertion order for new keys.
func (c *Credential) Set(key string, v Value) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = v
}

func (c *Credential) Get(key string) (Value, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *Credential) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Credential) Len() int { return len(c.keys) }

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
	KindBigInt
	KindMap
	KindList
)

// Value is a tagged union over the credential value grammar.
type Value struct {
	kind  ValueKind
	str   string // String and BigInt (decimal digits, no suffix)
	num   float64
	boolv bool
	mapv  *Credential
	list  []Value
}

func VString(s string) Value       { return Value{kind: KindString, str: s} }
func VNumber(n float64) Value      { return Value{kind: KindNumber, num: n} }
func VBool(b bool) Value           { return Value{kind: KindBool, boolv: b} }
func VBigInt(decimal string) Value { return Value{kind: KindBigInt, str: decimal} }
func VMap(m *Credential) Value     { return Value{kind: KindMap, mapv: m} }
func VList(vs []Value) Value       { return Value{kind: KindList, list: vs} }

func (v Value) Kind() ValueKind  { return v.kind }
func (v Value) String() string   { return v.str }
func (v Value) Number() float64  { return v.num }
func (v Value) Bool() bool       { return v.boolv }
func (v Value) BigInt() string   { return v.str }
func (v Value) Map() *Credential { return v.mapv }
func (v Value) List() []Value    { return v.list }

const bigIntSuffix = "||n"

// StringifyCredential renders c to the Tempo credential wire format.
func StringifyCredential(c *Credential) (string, error) {
	var sb strings.Builder
	if err := writeObjectBody(&sb, c, false); err != nil {
		return "", err
	}
	return escapeNonASCII(sb.String()), nil
}

func writeObjectBody(sb *strings.Builder, c *Credential, discriminate bool) error {
	sb.WriteByte('{')
	first := true
	if discriminate {
		sb.WriteString(`"_map":true`)
		first = false
	}
	for _, k := range c.keys {
		if !first {
			sb.WriteByte(',')
		}
		first = false
		writeJSONString(sb, k)
		sb.WriteByte(':')
		if err := writeValue(sb, c.values[k]); err != nil {
			return err
		}
	}
	sb.WriteByte('}')
	return nil
}

func writeValue(sb *strings.Builder, v Value) error {
	switch v.kind {
	case KindString:
		writeJSONString(sb, v.str)
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case KindBool:
		if v.boolv {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindBigInt:
		writeJSONString(sb, v.str+bigIntSuffix)
	case KindMap:
		return writeObjectBody(sb, v.mapv, true)
	case KindList:
		sb.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeValue(sb, item); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	default:
		return status.New(status.Internal, "unknown credential value kind %d", v.kind)
	}
	return nil
}

func writeJSONString(sb *strings.Builder, s string) {
	b, _ := jsoniter.Marshal(s)
	sb.Write(b)
}

// escapeNonASCII reescapes every code point >= 0x7F in s as \uXXXX (using
// a UTF-16 surrogate pair for astral code points).
func escapeNonASCII(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r < 0x7f {
			sb.WriteRune(r)
			continue
		}
		if r > 0xffff {
			r1, r2 := utf16.EncodeRune(r)
			sb.WriteString(escapeRune(r1))
			sb.WriteString(escapeRune(r2))
		} else {
			sb.WriteString(escapeRune(r))
		}
	}
	return sb.String()
}

func escapeRune(r rune) string {
	const hex = "0123456789abcdef"
	out := [6]byte{'\\', 'u', 0, 0, 0, 0}
	v := uint16(r)
	out[2] = hex[(v>>12)&0xf]
	out[3] = hex[(v>>8)&0xf]
	out[4] = hex[(v>>4)&0xf]
	out[5] = hex[v&0xf]
	return string(out[:])
}

// ParseCredential is the inverse of StringifyCredential. It rejects a
// top-level value that is not a JSON object.
func ParseCredential(wire string) (*Credential, error) {
	iter := jsoniter.ParseString(jsoniter.ConfigDefault, wire)
	if t := iter.WhatIsNext(); t != jsoniter.ObjectValue {
		return nil, status.New(status.InvalidArgument, "credential top-level value must be an object")
	}
	c, err := parseObject(iter)
	if err != nil {
		return nil, err
	}
	if iter.Error != nil && iter.Error.Error() != "EOF" {
		return nil, status.Wrap(status.InvalidArgument, iter.Error)
	}
	return c, nil
}

func parseObject(iter *jsoniter.Iterator) (*Credential, error) {
	c := NewCredential()
	var perKeyErr error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		if key == "_map" {
			it.Skip() // discriminator; not stored as a user field
			return true
		}
		v, err := parseValue(it)
		if err != nil {
			perKeyErr = err
			return false
		}
		c.Set(key, v)
		return true
	})
	if perKeyErr != nil {
		return nil, perKeyErr
	}
	return c, nil
}

func parseValue(it *jsoniter.Iterator) (Value, error) {
	switch it.WhatIsNext() {
	case jsoniter.StringValue:
		s := it.ReadString()
		if strings.HasSuffix(s, bigIntSuffix) {
			return VBigInt(strings.TrimSuffix(s, bigIntSuffix)), nil
		}
		return VString(s), nil
	case jsoniter.NumberValue:
		return VNumber(it.ReadFloat64()), nil
	case jsoniter.BoolValue:
		return VBool(it.ReadBool()), nil
	case jsoniter.NilValue:
		it.ReadNil()
		return VString(""), status.New(status.InvalidArgument, "credential does not support null values")
	case jsoniter.ArrayValue:
		var list []Value
		var perErr error
		it.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			v, err := parseValue(it)
			if err != nil {
				perErr = err
				return false
			}
			list = append(list, v)
			return true
		})
		if perErr != nil {
			return Value{}, perErr
		}
		return VList(list), nil
	case jsoniter.ObjectValue:
		nested, err := parseObject(it)
		if err != nil {
			return Value{}, err
		}
		return VMap(nested), nil
	default:
		return Value{}, status.New(status.InvalidArgument, "unexpected JSON token in credential")
	}
}

// Equal reports whether two Values are structurally equal, used by tests
// to check the StringifyCredential/ParseCredential round trip and by
// hooks that compare a before/after credential.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString, KindBigInt:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.boolv == o.boolv
	case KindMap:
		return v.mapv.Equal(o.mapv)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal reports whether two Credentials hold the same keys (in the same
// order) mapped to equal values.
func (c *Credential) Equal(o *Credential) bool {
	if c == nil || o == nil {
		return c == o
	}
	if len(c.keys) != len(o.keys) {
		return false
	}
	for i, k := range c.keys {
		if o.keys[i] != k {
			return false
		}
		ov, ok := o.values[k]
		if !ok || !c.values[k].Equal(ov) {
			return false
		}
	}
	return true
}
