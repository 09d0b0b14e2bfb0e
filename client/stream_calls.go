package client

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/frame"
	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
	"github.com/betwixt-labs/tempo/stream"
	"golang.org/x/sync/errgroup"
)

// newStreamID mirrors frame.NewStreamID with math/rand as the entropy
// source: a trace-correlation aid only, per §9.
func newStreamID() uint32 {
	return frame.NewStreamID(func(n uint32) uint32 { return rand.Uint32() % n })
}

// CallClientStream opens a pipe, spawns a writer pump that encodes
// source's records into the request body, sends the POST with the
// readable half as body, validates response headers, and decodes the
// single response payload (§4.7 ClientStream).
func (c *Channel) CallClientStream(cctx *Context, m *registry.Descriptor, source registry.Receiver) (any, error) {
	if m.Shape != registry.ClientStream {
		return nil, status.New(status.Internal, "method %s is not ClientStream", m.FullName())
	}
	pr, pw := io.Pipe()
	writerErrCh := make(chan error, 1)
	go func() {
		writerErrCh <- c.pumpUpload(cctx, m, source, pw)
	}()

	req, err := c.buildRequest(cctx, m, pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	if err := c.hooks.Run(cctx.ctx, hook.PhaseRequest, nil, func(context.Context) error { return nil }); err != nil {
		_ = pr.Close()
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		return nil, mapTransportErr(err)
	}
	defer resp.Body.Close()

	if werr := <-writerErrCh; werr != nil {
		return nil, werr
	}
	if err := c.validateResponse(cctx, resp, true); err != nil {
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = status.Wrap(status.Unavailable, err)
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	record, err := c.decodeFn(m)(body)
	if err != nil {
		err = status.Wrap(status.InvalidArgument, err)
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	if err := c.hooks.Run(cctx.ctx, hook.PhaseDecode, record, func(context.Context) error { return nil }); err != nil {
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	if err := c.hooks.Run(cctx.ctx, hook.PhaseResponse, nil, func(context.Context) error { return nil }); err != nil {
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	return record, nil
}

// pumpUpload drains source into sink via a stream.Writer, closing sink on
// every exit path. Decode hooks do not apply to the upload leg (they are
// record-level on the *reading* side only, per §9).
func (c *Channel) pumpUpload(cctx *Context, m *registry.Descriptor, source registry.Receiver, sink io.WriteCloser) error {
	defer sink.Close()
	w := stream.NewWriter(sink, c.encodeFn(m), newStreamID(), cctx.Deadline, cctx.Cancel)
	for {
		record, err := source.Recv(cctx.ctx)
		if err == io.EOF {
			return w.Close(cctx.ctx)
		}
		if err != nil {
			return err
		}
		if err := w.Send(cctx.ctx, record); err != nil {
			return err
		}
	}
}

// CallServerStream encodes a single request, POSTs it, validates response
// headers, and returns a lazy reader of response frames; retry policy
// applies only to the initial POST (§4.7 ServerStream).
func (c *Channel) CallServerStream(cctx *Context, m *registry.Descriptor, reqRecord any) (registry.Receiver, error) {
	if m.Shape != registry.ServerStream {
		return nil, status.New(status.Internal, "method %s is not ServerStream", m.FullName())
	}
	payload, err := c.encodeFn(m)(reqRecord)
	if err != nil {
		return nil, status.Wrap(status.InvalidArgument, err)
	}

	type openResult struct {
		resp *http.Response
	}
	do := func(ctx context.Context, attempt int) (any, error) {
		if attempt > 0 {
			_ = cctx.OutgoingMetadata.Set(deadline.PreviousAttemptsHeader, strconv.Itoa(attempt))
		}
		req, err := c.buildRequest(cctx, m, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if err := c.hooks.Run(ctx, hook.PhaseRequest, nil, func(context.Context) error { return nil }); err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, mapTransportErr(err)
		}
		if err := c.validateResponse(cctx, resp, false); err != nil {
			resp.Body.Close()
			return nil, err
		}
		return openResult{resp}, nil
	}

	result, err := c.invoke(cctx, do)
	if err != nil {
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}
	resp := result.(openResult).resp

	decode := func(data []byte) (any, error) {
		if len(data) > c.maxRecv {
			return nil, status.New(status.ResourceExhausted, "stream frame of %d bytes exceeds max receive size %d", len(data), c.maxRecv)
		}
		return c.decodeFn(m)(data)
	}
	r := stream.NewReader(resp.Body, decode, cctx.Deadline, cctx.Cancel)
	r.OnDecode = func(record any) error {
		return c.hooks.Run(cctx.ctx, hook.PhaseDecode, record, func(context.Context) error { return nil })
	}
	return &closingReceiver{reader: r, closer: resp.Body}, nil
}

// CallDuplexStream combines ClientStream's writer with ServerStream's
// reader: both directions are independent framed streams over one HTTP
// exchange (§4.7 DuplexStream). The upload pump runs under an
// errgroup.Group rather than a bare goroutine so its error surfaces
// through the receiver instead of being silently dropped.
func (c *Channel) CallDuplexStream(cctx *Context, m *registry.Descriptor, source registry.Receiver) (registry.Receiver, error) {
	if m.Shape != registry.DuplexStream {
		return nil, status.New(status.Internal, "method %s is not DuplexStream", m.FullName())
	}
	pr, pw := io.Pipe()
	var wg errgroup.Group
	wg.Go(func() error {
		return c.pumpUpload(cctx, m, source, pw)
	})

	req, err := c.buildRequest(cctx, m, pr)
	if err != nil {
		_ = pr.Close()
		_ = wg.Wait()
		return nil, err
	}
	if err := c.hooks.Run(cctx.ctx, hook.PhaseRequest, nil, func(context.Context) error { return nil }); err != nil {
		_ = pr.Close()
		_ = wg.Wait()
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.Close()
		_ = wg.Wait()
		return nil, mapTransportErr(err)
	}
	if err := c.validateResponse(cctx, resp, false); err != nil {
		resp.Body.Close()
		_ = wg.Wait()
		_ = c.hooks.RunError(cctx.ctx, err)
		return nil, err
	}

	decode := func(data []byte) (any, error) {
		if len(data) > c.maxRecv {
			return nil, status.New(status.ResourceExhausted, "stream frame of %d bytes exceeds max receive size %d", len(data), c.maxRecv)
		}
		return c.decodeFn(m)(data)
	}
	r := stream.NewReader(resp.Body, decode, cctx.Deadline, cctx.Cancel)
	r.OnDecode = func(record any) error {
		return c.hooks.Run(cctx.ctx, hook.PhaseDecode, record, func(context.Context) error { return nil })
	}
	return &closingReceiver{reader: r, closer: resp.Body, upload: &wg}, nil
}

// closingReceiver adapts a *stream.Reader to registry.Receiver and closes
// the underlying HTTP response body once the stream is exhausted. For a
// duplex call, upload is the errgroup running the write pump: its error,
// if any, takes priority over a generic EOF once the read side finishes.
type closingReceiver struct {
	reader *stream.Reader
	closer io.Closer
	closed bool
	upload *errgroup.Group
}

func (c *closingReceiver) Recv(ctx context.Context) (any, error) {
	record, err := c.reader.Recv(ctx)
	if err != nil && !c.closed {
		c.closed = true
		_ = c.closer.Close()
		if c.upload != nil {
			if uerr := c.upload.Wait(); uerr != nil && err == io.EOF {
				return record, uerr
			}
		}
	}
	return record, err
}

