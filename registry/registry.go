// Package registry implements the Tempo method registry: an
// immutable-after-registration map from numeric method id to method
// descriptor. A sync.RWMutex-guarded registry with eager duplicate
// detection at registration time, with no renew/cleanup lifecycle since
// Tempo method descriptors live for the process's lifetime.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package registry

import (
	"context"
	"sync"

	"github.com/betwixt-labs/tempo/status"
)

// Shape is one of the four Tempo call shapes.
type Shape int

const (
	Unary Shape = iota
	ClientStream
	ServerStream
	DuplexStream
)

func (s Shape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ClientStream:
		return "client-stream"
	case ServerStream:
		return "server-stream"
	case DuplexStream:
		return "duplex-stream"
	default:
		return "unknown-shape"
	}
}

// Codec provides per-method (de)serialization for both the binary record
// format and the JSON fallback. Record values are opaque `any`
// at this layer; a code generator would normally produce a strongly
// typed Codec per method, type-erased here at registration.
type Codec interface {
	Encode(record any) ([]byte, error)
	Decode(data []byte) (any, error)
	EncodeJSON(record any) (string, error)
	DecodeJSON(data string) (any, error)
}

// Receiver is a lazy, finite, single-pass, cancellable sequence of
// decoded records, used for the request side of ClientStream/DuplexStream
// handlers.
type Receiver interface {
	Recv(ctx context.Context) (any, error) // io.EOF when exhausted
}

// Sender accepts records produced by a ServerStream/DuplexStream handler.
type Sender interface {
	Send(ctx context.Context, record any) error
}

type (
	UnaryHandler        func(ctx context.Context, req any) (any, error)
	ClientStreamHandler func(ctx context.Context, reqs Receiver) (any, error)
	ServerStreamHandler func(ctx context.Context, req any, out Sender) error
	DuplexStreamHandler func(ctx context.Context, reqs Receiver, out Sender) error
)

// Descriptor is a Tempo method descriptor: immutable once
// registered. Exactly one of the four handler fields is set, matching
// Shape — a tagged variant, not a runtime type switch over the handler.
type Descriptor struct {
	ID      uint32
	Service string
	Name    string
	Shape   Shape
	Codec   Codec

	Unary        UnaryHandler
	ClientStream ClientStreamHandler
	ServerStream ServerStreamHandler
	DuplexStream DuplexStreamHandler
}

// FullName is "<service>.<name>", used in path construction and logging.
func (d *Descriptor) FullName() string { return d.Service + "." + d.Name }

// Registry maps method id -> Descriptor. Read-only after init except for
// Register calls made during startup wiring (: "the method
// registry (read-only after init)").
type Registry struct {
	mu       sync.RWMutex
	byID     map[uint32]*Descriptor
	byFullID map[string]uint32 // "service.name" -> id, for duplicate detection
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:     make(map[uint32]*Descriptor),
		byFullID: make(map[string]uint32),
	}
}

// Register adds d to the registry. Fails with status.Internal on a
// duplicate id or a duplicate (service, name) pair.
func (r *Registry) Register(d *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[d.ID]; exists {
		return status.New(status.Internal, "method id %d already registered", d.ID)
	}
	full := d.FullName()
	if _, exists := r.byFullID[full]; exists {
		return status.New(status.Internal, "method %s already registered", full)
	}
	r.byID[d.ID] = d
	r.byFullID[full] = d.ID
	return nil
}

// Lookup resolves a method id to its descriptor. The caller (server
// router) is responsible for mapping a miss to status.FailedPrecondition.
func (r *Registry) Lookup(id uint32) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// LookupByPath resolves "/service/method" to its descriptor.
func (r *Registry) LookupByPath(service, name string) (*Descriptor, bool) {
	r.mu.RLock()
	id, ok := r.byFullID[service+"."+name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Lookup(id)
}
