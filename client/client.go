// Package client implements the Tempo client channel (C7): the four
// call-shape operations (Unary, ClientStream, ServerStream, DuplexStream)
// composed from the frame codec, stream pump, metadata/credential codec,
// deadline/retry engine, and hook pipeline. Grounded on the teacher's
// api.BaseParams/ReqParams header-construction convention and
// transport's stream producer for the streaming request bodies.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/betwixt-labs/tempo/codec"
	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/metadata"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
	"github.com/betwixt-labs/tempo/xlog"
)

// DefaultMaxReceiveSize is the channel-wide ceiling on a single response
// payload (Unary/ClientStream content-length, or one stream frame),
// absent an explicit override.
const DefaultMaxReceiveSize = 4 << 20 // 4 MiB

const DefaultUserAgent = "tempo-go-client/1"

// CredentialStore mints the outgoing Authorization header for a call and
// may persist a tempo-credential the server handed back. Implementations
// must be safe for concurrent use: a channel's credential is shared
// across every call in flight.
type CredentialStore interface {
	// GetHeader returns the Authorization header value to attach, or ""
	// to attach none.
	GetHeader(ctx context.Context) (string, error)
	// Store persists a credential received from the server on
	// tempo-credential. May be a no-op.
	Store(ctx context.Context, cred *metadata.Credential) error
	// RequiresSecureChannel reports whether this credential refuses to
	// attach itself to a plaintext (http://) target unless the channel
	// was constructed with UnsafeAllowInsecure.
	RequiresSecureChannel() bool
}

// insecureNoOp is the channel default: it attaches no Authorization
// header and stores nothing. Its RequiresSecureChannel reports false, so
// New accepts it for a plaintext (http://) target even when
// UnsafeAllowInsecure is unset.
type insecureNoOp struct{}

func (insecureNoOp) GetHeader(context.Context) (string, error)         { return "", nil }
func (insecureNoOp) Store(context.Context, *metadata.Credential) error { return nil }
func (insecureNoOp) RequiresSecureChannel() bool                       { return false }

// Options configures a Channel at construction time.
type Options struct {
	Codec                codec.Name // Bebop (binary) or JSON
	MaxReceiveSize       int        // 0 -> DefaultMaxReceiveSize
	Credential           CredentialStore
	UnsafeAllowInsecure  bool
	UserAgent            string
	HTTPClient           *http.Client
	RetryPolicy          *deadline.Policy // nil disables retry
	Hooks                *hook.Pipeline
	XUserAgentHeaderName bool // set when the host forbids overriding "user-agent"
}

// Channel is a bound Tempo client channel: a target URL plus the
// composed C1-C6 machinery for the four call shapes. Construction binds
// everything; Hooks may only be attached before the first call.
type Channel struct {
	target     string
	codecName  codec.Name
	maxRecv    int
	cred       CredentialStore
	userAgent  string
	httpClient *http.Client
	retry      *deadline.Policy
	hooks      *hook.Pipeline
	uaHeader   string
}

// New constructs a Channel bound to target (e.g. "https://host:port").
// Fails with status.InvalidArgument if opts.Credential requires a secure
// channel and target is plaintext and UnsafeAllowInsecure is unset.
func New(target string, opts Options) (*Channel, error) {
	cred := opts.Credential
	if cred == nil {
		cred = insecureNoOp{}
	}
	if cred.RequiresSecureChannel() && !opts.UnsafeAllowInsecure && strings.HasPrefix(target, "http://") {
		return nil, status.New(status.InvalidArgument,
			"refusing to attach credential over plaintext target %q without UnsafeAllowInsecure", target)
	}
	codecName := opts.Codec
	if codecName == "" {
		codecName = codec.Bebop
	}
	maxRecv := opts.MaxReceiveSize
	if maxRecv <= 0 {
		maxRecv = DefaultMaxReceiveSize
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = hook.New()
	}
	uaHeader := "user-agent"
	if opts.XUserAgentHeaderName {
		uaHeader = "x-user-agent"
	}
	return &Channel{
		target:     strings.TrimSuffix(target, "/"),
		codecName:  codecName,
		maxRecv:    maxRecv,
		cred:       cred,
		userAgent:  ua,
		httpClient: httpClient,
		retry:      opts.RetryPolicy,
		hooks:      hooks,
		uaHeader:   uaHeader,
	}, nil
}

// Context is the per-call client-side mutable bag (§3): outgoing
// metadata is freely mutable until the request starts; incoming metadata
// is populated once the response headers are validated.
type Context struct {
	ctx                context.Context
	Deadline           deadline.Deadline
	Cancel             <-chan struct{}
	OutgoingMetadata   *metadata.Metadata
	incomingMetadata   *metadata.Metadata
	OutgoingCredential *metadata.Credential
}

// NewContext returns a Context wrapping ctx, with empty outgoing
// metadata, ready for mutation before the call starts.
func NewContext(ctx context.Context) *Context {
	return &Context{ctx: ctx, OutgoingMetadata: metadata.New()}
}

// IncomingMetadata returns the metadata parsed from the response's
// custom-metadata header, or an empty instance before the response
// arrives.
func (c *Context) IncomingMetadata() *metadata.Metadata {
	if c.incomingMetadata == nil {
		return metadata.New()
	}
	return c.incomingMetadata
}

func (c *Channel) path(m *registry.Descriptor) string {
	return fmt.Sprintf("/%s/%s", m.Service, m.Name)
}

func (c *Channel) url(m *registry.Descriptor) string {
	return c.target + c.path(m)
}

// buildRequest constructs the *http.Request for a call, stamping the
// common envelope headers from §4.7/§6. body is the encoded payload for
// Unary/ServerStream calls, or the read half of a pipe for
// ClientStream/DuplexStream calls.
func (c *Channel) buildRequest(cctx *Context, m *registry.Descriptor, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(cctx.ctx, http.MethodPost, c.url(m), body)
	if err != nil {
		return nil, status.Wrap(status.Unavailable, err)
	}

	ct := codec.ContentType(c.codecName)
	req.Header.Set("tempo-method", strconv.FormatUint(uint64(m.ID), 10))
	req.Header.Set("content-type", ct)
	req.Header.Set("accept", ct)
	req.Header.Set("path", c.path(m))
	req.Header.Set("service-name", m.Service)
	req.Header.Set(c.uaHeader, c.userAgent)

	if !cctx.Deadline.Zero() {
		req.Header.Set("tempo-deadline", strconv.FormatInt(cctx.Deadline.UnixMillis(), 10))
	}
	if cctx.OutgoingMetadata != nil && !cctx.OutgoingMetadata.IsEmpty() {
		req.Header.Set("custom-metadata", cctx.OutgoingMetadata.ToHTTPHeader())
	}
	authHeader, err := c.cred.GetHeader(cctx.ctx)
	if err != nil {
		return nil, status.Wrap(status.Unauthenticated, err)
	}
	if authHeader != "" {
		req.Header.Set("authorization", authHeader)
	}
	return req, nil
}

// validateResponse runs the §4.7a common response checks and, on
// success, populates cctx.incomingMetadata and stores any received
// credential.
func (c *Channel) validateResponse(cctx *Context, resp *http.Response, requireContentLength bool) error {
	statusHdr := resp.Header.Get("tempo-status")
	if statusHdr == "" {
		return status.New(status.Unknown, "response is missing tempo-status header (http %d)", resp.StatusCode)
	}
	code, err := strconv.Atoi(statusHdr)
	if err != nil {
		return status.New(status.Unknown, "malformed tempo-status header %q", statusHdr)
	}
	if status.Code(code) != status.OK {
		msg := resp.Header.Get("tempo-message")
		return status.New(status.Code(code), "%s", msg)
	}

	ct := resp.Header.Get("content-type")
	if ct == "" {
		return status.New(status.Unknown, "response is missing content-type header")
	}
	respCodec, err := codec.Parse(ct)
	if err != nil {
		return err
	}
	if respCodec != c.codecName {
		return status.New(status.Unknown, "response codec %q does not match channel codec %q", respCodec, c.codecName)
	}

	if requireContentLength {
		cl := resp.Header.Get("content-length")
		if cl == "" {
			return status.New(status.Unknown, "response is missing content-length header")
		}
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return status.New(status.Unknown, "malformed content-length header %q", cl)
		}
		if n > c.maxRecv {
			return status.New(status.ResourceExhausted, "response content-length %d exceeds max receive size %d", n, c.maxRecv)
		}
	}

	if cm := resp.Header.Get("custom-metadata"); cm != "" {
		md, err := metadata.FromHTTPHeader(cm)
		if err != nil {
			return err
		}
		cctx.incomingMetadata = md
	}

	if credHdr := resp.Header.Get("tempo-credential"); credHdr != "" {
		cred, err := metadata.ParseCredential(credHdr)
		if err != nil {
			return status.New(status.InvalidArgument, "malformed tempo-credential header: %v", err)
		}
		if err := c.cred.Store(cctx.ctx, cred); err != nil {
			return status.Wrap(status.Internal, err)
		}
	}
	return nil
}

func (c *Channel) encodeFn(m *registry.Descriptor) func(record any) ([]byte, error) {
	if c.codecName == codec.JSON {
		return func(record any) ([]byte, error) {
			s, err := m.Codec.EncodeJSON(record)
			return []byte(s), err
		}
	}
	return m.Codec.Encode
}

func (c *Channel) decodeFn(m *registry.Descriptor) func(data []byte) (any, error) {
	if c.codecName == codec.JSON {
		return func(data []byte) (any, error) {
			return m.Codec.DecodeJSON(string(data))
		}
	}
	return m.Codec.Decode
}

// CallUnary performs a Unary call: encode -> POST -> validate -> decode.
// If the channel has a retry policy, the fetch is wrapped in
// deadline.ExecuteWithRetry with the deadline wrapping the whole retried
// operation; otherwise the deadline wraps the single fetch.
func (c *Channel) CallUnary(cctx *Context, m *registry.Descriptor, reqRecord any) (any, error) {
	if m.Shape != registry.Unary {
		return nil, status.New(status.Internal, "method %s is not Unary", m.FullName())
	}
	payload, err := c.encodeFn(m)(reqRecord)
	if err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}

	do := func(ctx context.Context, attempt int) (any, error) {
		if attempt > 0 {
			_ = cctx.OutgoingMetadata.Set(deadline.PreviousAttemptsHeader, strconv.Itoa(attempt))
		}
		req, err := c.buildRequest(cctx, m, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if err := c.hooks.Run(ctx, hook.PhaseRequest, nil, func(ctx context.Context) error { return nil }); err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, mapTransportErr(err)
		}
		defer resp.Body.Close()
		if err := c.validateResponse(cctx, resp, true); err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, status.Wrap(status.Unavailable, err)
		}
		record, err := c.decodeFn(m)(body)
		if err != nil {
			return nil, status.Wrap(status.InvalidArgument, err)
		}
		if err := c.hooks.Run(ctx, hook.PhaseDecode, record, func(context.Context) error { return nil }); err != nil {
			return nil, err
		}
		if err := c.hooks.Run(ctx, hook.PhaseResponse, nil, func(context.Context) error { return nil }); err != nil {
			return nil, err
		}
		return record, nil
	}

	record, err := c.invoke(cctx, do)
	if err != nil {
		_ = c.hooks.RunError(cctx.ctx, err)
	}
	return record, err
}

func (c *Channel) invoke(cctx *Context, do func(ctx context.Context, attempt int) (any, error)) (any, error) {
	if c.retry != nil {
		onAttempt := func(prior int) {
			if prior > 0 {
				xlog.Infof("tempo: retrying %s, %d prior attempt(s)", "call", prior)
			}
		}
		return deadline.ExecuteWithRetry(cctx.ctx, do, *c.retry, cctx.Deadline, cctx.Cancel, onAttempt)
	}
	if !cctx.Deadline.Zero() {
		return deadline.Race(cctx.ctx, cctx.Deadline, cctx.Cancel, func(ctx context.Context) (any, error) {
			return do(ctx, 0)
		})
	}
	return do(cctx.ctx, 0)
}

func mapTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(interface{ Timeout() bool }); ok && ue.Timeout() {
		return status.Wrap(status.DeadlineExceeded, err)
	}
	return status.Wrap(status.Unavailable, err)
}
