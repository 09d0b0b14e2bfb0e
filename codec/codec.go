// Package codec implements the Tempo content-type negotiation: parsing
// and building "application/tempo+<name>" media types, and a small
// adapter that turns a pair of per-method encode/decode functions into a
// registry.Codec. The concrete binary record format is assumed to be
// produced by a schema compiler (bebop) and is out of scope here; this
// package only standardizes the envelope around whatever bytes that
// compiler produces.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package codec

import (
	"strings"

	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
	jsoniter "github.com/json-iterator/go"
)

// Name identifies a content codec recognized on the wire.
type Name string

const (
	Bebop Name = "bebop"
	JSON  Name = "json"
)

const mediaTypePrefix = "application/tempo+"

// ContentType renders the outgoing content-type header value for name.
// JSON additionally carries a charset parameter; bebop does not.
func ContentType(name Name) string {
	if name == JSON {
		return mediaTypePrefix + string(JSON) + "; charset=utf-8"
	}
	return mediaTypePrefix + string(name)
}

// Parse extracts the codec Name from a content-type header value,
// ignoring any trailing parameters (";charset=..."). Fails with
// status.UnknownContentType if the media type isn't "application/tempo+*",
// or names a codec this runtime doesn't recognize.
func Parse(contentType string) (Name, error) {
	base := contentType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(base)
	if !strings.HasPrefix(base, mediaTypePrefix) {
		return "", status.New(status.UnknownContentType, "unrecognized content-type %q", contentType)
	}
	switch Name(strings.TrimPrefix(base, mediaTypePrefix)) {
	case Bebop:
		return Bebop, nil
	case JSON:
		return JSON, nil
	default:
		return "", status.New(status.UnknownContentType, "unrecognized codec in content-type %q", contentType)
	}
}

// EncodeFunc/DecodeFunc are the per-method binary (de)serialization
// functions a schema compiler would emit for one record type.
type EncodeFunc func(record any) ([]byte, error)
type DecodeFunc func(data []byte) (any, error)

// JSONEncodeFunc/JSONDecodeFunc are the per-method JSON fallbacks; absent
// a generated pair, jsoniter's reflection-based codec covers any record
// that round-trips through ordinary struct tags.
type JSONEncodeFunc func(record any) (string, error)
type JSONDecodeFunc func(data string) (any, error)

// adapter composes generated (or reflective) encode/decode functions into
// a registry.Codec.
type adapter struct {
	encode     EncodeFunc
	decode     DecodeFunc
	encodeJSON JSONEncodeFunc
	decodeJSON JSONDecodeFunc
}

// New builds a registry.Codec from generated binary and JSON functions.
func New(encode EncodeFunc, decode DecodeFunc, encodeJSON JSONEncodeFunc, decodeJSON JSONDecodeFunc) registry.Codec {
	return &adapter{encode: encode, decode: decode, encodeJSON: encodeJSON, decodeJSON: decodeJSON}
}

func (a *adapter) Encode(record any) ([]byte, error)       { return a.encode(record) }
func (a *adapter) Decode(data []byte) (any, error)         { return a.decode(data) }
func (a *adapter) EncodeJSON(record any) (string, error)   { return a.encodeJSON(record) }
func (a *adapter) DecodeJSON(data string) (any, error)     { return a.decodeJSON(data) }

// NewReflective builds a registry.Codec for a record type that has no
// generated binary form: the binary path falls back to JSON bytes, and
// the JSON path uses jsoniter reflection, decoding into the value new
// returns. new must return a fresh pointer to decode into.
func NewReflective(new func() any) registry.Codec {
	return &reflective{new: new}
}

type reflective struct {
	new func() any
}

func (r *reflective) Encode(record any) ([]byte, error) {
	return jsoniter.Marshal(record)
}

func (r *reflective) Decode(data []byte) (any, error) {
	out := r.new()
	if err := jsoniter.Unmarshal(data, out); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}
	return out, nil
}

func (r *reflective) EncodeJSON(record any) (string, error) {
	b, err := jsoniter.MarshalToString(record)
	return b, err
}

func (r *reflective) DecodeJSON(data string) (any, error) {
	out := r.new()
	if err := jsoniter.UnmarshalFromString(data, out); err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}
	return out, nil
}
