// Package server implements the Tempo server router (C8): an
// http.Handler that dispatches the four call shapes against a method
// registry.Registry, enforcing the §4.8 request validation order, CORS,
// and an optional discovery endpoint. Grounded on the teacher's
// ais/tgtcp.go and ais/prxbck.go validation-order-then-errCode pattern
// and its writeErr-style single-point error response helpers.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/betwixt-labs/tempo/auth"
	"github.com/betwixt-labs/tempo/codec"
	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/metadata"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
	"github.com/betwixt-labs/tempo/xlog"
	"github.com/pkg/errors"
)

// DefaultMaxReceiveSize / DefaultMaxSendSize are the router-wide ceilings
// on a single request/response payload or stream frame.
const (
	DefaultMaxReceiveSize = 4 << 20
	DefaultMaxSendSize    = 4 << 20
)

// Discovery is the JSON descriptor served on a discovery GET, per §4.8.
type Discovery struct {
	Tempo    string `json:"tempo"`
	Language string `json:"language"`
	Runtime  string `json:"runtime"`
	Variant  string `json:"variant"`
}

// CORSConfig controls the router's cross-origin behavior.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string // empty + Enabled => wildcard "*"
}

func (c CORSConfig) wildcard() bool { return len(c.AllowedOrigins) == 0 }

func (c CORSConfig) allows(origin string) bool {
	if !c.Enabled {
		return false
	}
	if c.wildcard() {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Sanitizer HTML-escapes and strips keys beginning with "$" from a
// decoded JSON record before it reaches a handler. Optional, JSON-codec
// path only, per §9: it must never touch a binary-codec record.
type Sanitizer func(record any) any

// Options configures a Router at construction time.
type Options struct {
	MaxReceiveSize         int
	MaxSendSize            int
	MaxRetryAttempts       int // requests claiming more prior attempts are rejected
	CORS                   CORSConfig
	Discovery              *Discovery // nil disables the discovery GET
	TransmitInternalErrors bool
	Sanitizer              Sanitizer
	Auth                   auth.Interceptor // nil -> auth.NoOp
	Hooks                  *hook.Pipeline
}

// Router is the Tempo server router: an http.Handler bound to a method
// registry.Registry.
type Router struct {
	registry         *registry.Registry
	maxRecv          int
	maxSend          int
	maxRetry         int
	cors             CORSConfig
	discovery        *Discovery
	transmitInternal bool
	sanitize         Sanitizer
	authn            auth.Interceptor
	hooks            *hook.Pipeline
}

// New binds reg into a Router configured by opts.
func New(reg *registry.Registry, opts Options) *Router {
	maxRecv := opts.MaxReceiveSize
	if maxRecv <= 0 {
		maxRecv = DefaultMaxReceiveSize
	}
	maxSend := opts.MaxSendSize
	if maxSend <= 0 {
		maxSend = DefaultMaxSendSize
	}
	authn := opts.Auth
	if authn == nil {
		authn = auth.NoOp
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = hook.New()
	}
	return &Router{
		registry:         reg,
		maxRecv:          maxRecv,
		maxSend:          maxSend,
		maxRetry:         opts.MaxRetryAttempts,
		cors:             opts.CORS,
		discovery:        opts.Discovery,
		transmitInternal: opts.TransmitInternalErrors,
		sanitize:         opts.Sanitizer,
		authn:            authn,
		hooks:            hooks,
	}
}

// Context is the per-call server-side mutable bag (§3).
type Context struct {
	ctx                context.Context
	ClientHeaders      http.Header
	ClientMetadata     *metadata.Metadata
	ClientDeadline     deadline.Deadline
	OutgoingMetadata   *metadata.Metadata
	OutgoingCredential *metadata.Credential
	AuthContext        *auth.Context
}

type ctxKey struct{}

// FromContext recovers the server Context stashed by the router into a
// handler's context.Context.
func FromContext(ctx context.Context) *Context {
	sc, _ := ctx.Value(ctxKey{}).(*Context)
	return sc
}

func (sc *Context) withValue() context.Context {
	return context.WithValue(sc.ctx, ctxKey{}, sc)
}

// ServeHTTP dispatches one HTTP request through the §4.8 state machine.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		rt.serveOptions(w, r)
		return
	}
	if r.Method == http.MethodGet {
		rt.serveDiscovery(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	origin := r.Header.Get("origin")
	if rt.cors.Enabled && origin != "" && !rt.cors.allows(origin) {
		rt.writeError(w, status.New(status.PermissionDenied, "origin %q is not allowed", origin), "")
		return
	}

	methodIDStr := r.Header.Get("tempo-method")
	if methodIDStr == "" {
		rt.writeError(w, status.New(status.FailedPrecondition, "missing tempo-method header"), origin)
		return
	}
	methodID64, err := strconv.ParseUint(methodIDStr, 10, 32)
	if err != nil {
		rt.writeError(w, status.New(status.FailedPrecondition, "malformed tempo-method header %q", methodIDStr), origin)
		return
	}

	contentType := r.Header.Get("content-type")
	codecName, err := codec.Parse(contentType)
	if err != nil {
		rt.writeError(w, err, origin)
		return
	}

	desc, ok := rt.registry.Lookup(uint32(methodID64))
	if !ok {
		rt.writeError(w, status.New(status.FailedPrecondition, "unknown method id %d", methodID64), origin)
		return
	}

	if prev := r.Header.Get(deadline.PreviousAttemptsHeader); prev != "" {
		n, err := strconv.Atoi(prev)
		if err == nil && rt.maxRetry > 0 && n > rt.maxRetry {
			rt.writeError(w, status.New(status.ResourceExhausted, "too many prior attempts (%d > %d)", n, rt.maxRetry), origin)
			return
		}
	}

	var dl deadline.Deadline
	if dlHdr := r.Header.Get("tempo-deadline"); dlHdr != "" {
		ms, err := strconv.ParseInt(dlHdr, 10, 64)
		if err != nil {
			rt.writeError(w, status.New(status.InvalidArgument, "malformed tempo-deadline header %q", dlHdr), origin)
			return
		}
		dl = deadline.FromUnixMillis(ms)
		if dl.IsExpired() {
			rt.writeError(w, status.New(status.DeadlineExceeded, "deadline already expired on arrival"), origin)
			return
		}
	}

	clientMD := metadata.New()
	if cm := r.Header.Get("custom-metadata"); cm != "" {
		clientMD, err = metadata.FromHTTPHeader(cm)
		if err != nil {
			rt.writeError(w, err, origin)
			return
		}
	}

	if r.ContentLength > int64(rt.maxRecv) {
		rt.writeError(w, status.New(status.ResourceExhausted, "request body of %d bytes exceeds max receive size %d", r.ContentLength, rt.maxRecv), origin)
		return
	}

	sc := &Context{
		ctx:              r.Context(),
		ClientHeaders:    r.Header,
		ClientMetadata:   clientMD,
		ClientDeadline:   dl,
		OutgoingMetadata: metadata.New(),
	}

	authCtx, authErr := rt.authn.Authenticate(sc.ctx, r.Header.Get("authorization"))
	if authErr != nil {
		rt.writeError(w, authErr, origin)
		return
	}
	sc.AuthContext = authCtx

	ctx := sc.withValue()
	if err := rt.hooks.Run(ctx, hook.PhaseRequest, nil, func(context.Context) error { return nil }); err != nil {
		rt.finishError(w, sc, err, origin, codecName)
		return
	}

	work := func(wctx context.Context) (struct{}, error) {
		return struct{}{}, rt.dispatch(wctx, sc, desc, codecName, r, w, origin)
	}
	var dispatchErr error
	if !dl.Zero() {
		_, dispatchErr = deadline.Race(ctx, dl, nil, work)
	} else {
		_, dispatchErr = work(ctx)
	}
	if dispatchErr != nil {
		rt.finishError(w, sc, dispatchErr, origin, codecName)
	}
}

func (rt *Router) dispatch(ctx context.Context, sc *Context, desc *registry.Descriptor, codecName codec.Name, r *http.Request, w http.ResponseWriter, origin string) error {
	switch desc.Shape {
	case registry.Unary:
		return rt.dispatchUnary(ctx, sc, desc, codecName, r, w, origin)
	case registry.ClientStream:
		return rt.dispatchClientStream(ctx, sc, desc, codecName, r, w, origin)
	case registry.ServerStream:
		return rt.dispatchServerStream(ctx, sc, desc, codecName, r, w, origin)
	case registry.DuplexStream:
		return rt.dispatchDuplexStream(ctx, sc, desc, codecName, r, w, origin)
	default:
		return status.New(status.Internal, "unknown method shape %v", desc.Shape)
	}
}

func (rt *Router) decodeFn(desc *registry.Descriptor, codecName codec.Name) func([]byte) (any, error) {
	if codecName == codec.JSON {
		return func(b []byte) (any, error) {
			rec, err := desc.Codec.DecodeJSON(string(b))
			if err != nil {
				return nil, err
			}
			if rt.sanitize != nil {
				rec = rt.sanitize(rec)
			}
			return rec, nil
		}
	}
	return desc.Codec.Decode
}

func (rt *Router) encodeFn(desc *registry.Descriptor, codecName codec.Name) func(any) ([]byte, error) {
	if codecName == codec.JSON {
		return func(record any) ([]byte, error) {
			s, err := desc.Codec.EncodeJSON(record)
			return []byte(s), err
		}
	}
	return desc.Codec.Encode
}

func (rt *Router) dispatchUnary(ctx context.Context, sc *Context, desc *registry.Descriptor, codecName codec.Name, r *http.Request, w http.ResponseWriter, origin string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(rt.maxRecv)+1))
	if err != nil {
		return status.Wrap(status.Unavailable, err)
	}
	if len(body) > rt.maxRecv {
		return status.New(status.ResourceExhausted, "request body exceeds max receive size %d", rt.maxRecv)
	}
	req, err := rt.decodeFn(desc, codecName)(body)
	if err != nil {
		return status.Wrap(status.InvalidArgument, err)
	}
	if err := rt.hooks.Run(ctx, hook.PhaseDecode, req, func(context.Context) error { return nil }); err != nil {
		return err
	}
	resp, err := desc.Unary(ctx, req)
	if err != nil {
		return err
	}
	payload, err := rt.encodeFn(desc, codecName)(resp)
	if err != nil {
		return status.Wrap(status.Internal, err)
	}
	return rt.writeUnaryResponse(ctx, w, sc, codecName, payload, origin)
}

func (rt *Router) dispatchClientStream(ctx context.Context, sc *Context, desc *registry.Descriptor, codecName codec.Name, r *http.Request, w http.ResponseWriter, origin string) error {
	reader := newHandlerReceiver(ctx, r.Body, rt.decodeFn(desc, codecName), rt.hooks, rt.maxRecv)
	resp, err := desc.ClientStream(ctx, reader)
	if err != nil {
		return err
	}
	payload, err := rt.encodeFn(desc, codecName)(resp)
	if err != nil {
		return status.Wrap(status.Internal, err)
	}
	return rt.writeUnaryResponse(ctx, w, sc, codecName, payload, origin)
}

func (rt *Router) dispatchServerStream(ctx context.Context, sc *Context, desc *registry.Descriptor, codecName codec.Name, r *http.Request, w http.ResponseWriter, origin string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(rt.maxRecv)+1))
	if err != nil {
		return status.Wrap(status.Unavailable, err)
	}
	if len(body) > rt.maxRecv {
		return status.New(status.ResourceExhausted, "request body exceeds max receive size %d", rt.maxRecv)
	}
	req, err := rt.decodeFn(desc, codecName)(body)
	if err != nil {
		return status.Wrap(status.InvalidArgument, err)
	}
	if err := rt.hooks.Run(ctx, hook.PhaseDecode, req, func(context.Context) error { return nil }); err != nil {
		return err
	}

	if err := rt.beginStreamResponse(ctx, w, sc, codecName, origin); err != nil {
		return err
	}
	sender := newHandlerSender(ctx, w, rt.encodeFn(desc, codecName), rt.maxSend)
	if err := desc.ServerStream(ctx, req, sender); err != nil {
		return err
	}
	return sender.close(ctx)
}

func (rt *Router) dispatchDuplexStream(ctx context.Context, sc *Context, desc *registry.Descriptor, codecName codec.Name, r *http.Request, w http.ResponseWriter, origin string) error {
	reader := newHandlerReceiver(ctx, r.Body, rt.decodeFn(desc, codecName), rt.hooks, rt.maxRecv)
	if err := rt.beginStreamResponse(ctx, w, sc, codecName, origin); err != nil {
		return err
	}
	sender := newHandlerSender(ctx, w, rt.encodeFn(desc, codecName), rt.maxSend)
	if err := desc.DuplexStream(ctx, reader, sender); err != nil {
		return err
	}
	return sender.close(ctx)
}

// serveOptions implements the §4.8 CORS preflight/plain-OPTIONS split.
func (rt *Router) serveOptions(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("origin") != "" && r.Header.Get("access-control-request-method") != "" && r.Header.Get("access-control-request-headers") != "" {
		origin := r.Header.Get("origin")
		allowOrigin := "*"
		if !rt.cors.wildcard() {
			allowOrigin = origin
			if !rt.cors.allows(origin) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
		}
		w.Header().Set("access-control-allow-methods", "POST, OPTIONS")
		w.Header().Set("access-control-allow-headers", r.Header.Get("access-control-request-headers"))
		w.Header().Set("access-control-allow-origin", allowOrigin)
		if !rt.cors.wildcard() {
			w.Header().Add("vary", "Origin")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("allow", "POST, OPTIONS")
	w.WriteHeader(http.StatusOK)
}

func (rt *Router) serveDiscovery(w http.ResponseWriter, r *http.Request) {
	if rt.discovery == nil {
		writeMethodNotAllowed(w)
		return
	}
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "public, max-age=31536000, immutable")
	if err := json.NewEncoder(w).Encode(rt.discovery); err != nil {
		xlog.Warningf("discovery response encode failed: %v", err)
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("allow", "POST, OPTIONS")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// writeUnaryResponse writes a single-payload response for Unary/ClientStream.
// It re-checks ctx just before committing to write, since the caller may
// be racing this dispatch against a deadline: a handler that finishes
// just as the deadline fires should lose the race rather than write a
// stale response after the deadline's own error has already gone out.
func (rt *Router) writeUnaryResponse(ctx context.Context, w http.ResponseWriter, sc *Context, codecName codec.Name, payload []byte, origin string) error {
	if err := ctx.Err(); err != nil {
		return status.New(status.DeadlineExceeded, "deadline exceeded before response could be written")
	}
	if len(payload) > rt.maxSend {
		return status.New(status.ResourceExhausted, "response payload of %d bytes exceeds max send size %d", len(payload), rt.maxSend)
	}
	if err := rt.hooks.Run(sc.ctx, hook.PhaseResponse, nil, func(context.Context) error { return nil }); err != nil {
		return err
	}
	h := w.Header()
	h.Set("content-type", codec.ContentType(codecName))
	h.Set("tempo-status", "0")
	h.Set("tempo-message", "OK")
	h.Set("content-length", strconv.Itoa(len(payload)))
	rt.writeCommonHeaders(h, sc, origin)
	sc.OutgoingMetadata.Freeze()
	w.WriteHeader(http.StatusOK)
	_, err := w.Write(payload)
	return mapWriteErr(err)
}

// beginStreamResponse writes response headers for a ServerStream/Duplex
// call, before any frame is written.
func (rt *Router) beginStreamResponse(ctx context.Context, w http.ResponseWriter, sc *Context, codecName codec.Name, origin string) error {
	if err := ctx.Err(); err != nil {
		return status.New(status.DeadlineExceeded, "deadline exceeded before response could be written")
	}
	if err := rt.hooks.Run(sc.ctx, hook.PhaseResponse, nil, func(context.Context) error { return nil }); err != nil {
		return err
	}
	h := w.Header()
	h.Set("content-type", codec.ContentType(codecName))
	h.Set("tempo-status", "0")
	h.Set("tempo-message", "OK")
	rt.writeCommonHeaders(h, sc, origin)
	sc.OutgoingMetadata.Freeze()
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (rt *Router) writeCommonHeaders(h http.Header, sc *Context, origin string) {
	if !sc.OutgoingMetadata.IsEmpty() {
		h.Set("custom-metadata", sc.OutgoingMetadata.ToHTTPHeader())
	}
	if sc.OutgoingCredential != nil {
		wire, err := metadata.StringifyCredential(sc.OutgoingCredential)
		if err == nil {
			h.Set("tempo-credential", wire)
		}
	}
	if rt.cors.Enabled && origin != "" {
		allowOrigin := "*"
		if !rt.cors.wildcard() {
			allowOrigin = origin
			h.Add("vary", "Origin")
		}
		h.Set("access-control-allow-origin", allowOrigin)
	}
}

// writeError writes a status-mapped error response with no prior
// server.Context (used for pre-dispatch validation failures).
func (rt *Router) writeError(w http.ResponseWriter, err error, origin string) {
	rt.finishError(w, nil, err, origin, codec.Bebop)
}

// finishError runs the error hooks, logs per §7's severity rule, and
// writes the status-mapped response. Never leaks internal error text
// unless TransmitInternalErrors is set.
func (rt *Router) finishError(w http.ResponseWriter, sc *Context, err error, origin string, codecName codec.Name) {
	ctx := context.Background()
	if sc != nil {
		ctx = sc.ctx
	}
	_ = rt.hooks.RunError(ctx, err)

	code := status.From(err)
	msg := err.Error()
	if code == status.Internal {
		xlog.Errorln(errors.WithStack(err))
		if !rt.transmitInternal {
			msg = "internal error"
		}
	} else {
		xlog.Warningln(err)
	}

	h := w.Header()
	h.Set("content-type", codec.ContentType(codecName))
	h.Set("tempo-status", strconv.Itoa(int(code)))
	h.Set("tempo-message", msg)
	if sc != nil {
		rt.writeCommonHeaders(h, sc, origin)
		sc.OutgoingMetadata.Freeze()
	} else if rt.cors.Enabled && origin != "" {
		allowOrigin := "*"
		if !rt.cors.wildcard() {
			allowOrigin = origin
			h.Add("vary", "Origin")
		}
		h.Set("access-control-allow-origin", allowOrigin)
	}
	w.WriteHeader(status.HTTPStatus(code))
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	return status.Wrap(status.Unavailable, err)
}
