package server

import (
	"context"
	"io"
	"net/http"

	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
	"github.com/betwixt-labs/tempo/stream"
)

// handlerReceiver adapts a stream.Reader over the request body into a
// registry.Receiver for a ClientStream/DuplexStream handler, running
// decode hooks per-record inside the reader pump rather than at the call
// boundary, per §9.
type handlerReceiver struct {
	r *stream.Reader
}

func newHandlerReceiver(ctx context.Context, body io.Reader, decode func([]byte) (any, error), hooks *hook.Pipeline, maxRecv int) *handlerReceiver {
	limited := func(data []byte) (any, error) {
		if len(data) > maxRecv {
			return nil, status.New(status.ResourceExhausted, "stream frame of %d bytes exceeds max receive size %d", len(data), maxRecv)
		}
		return decode(data)
	}
	r := stream.NewReader(body, limited, deadline.Deadline{}, nil)
	r.OnDecode = func(record any) error {
		return hooks.Run(ctx, hook.PhaseDecode, record, func(context.Context) error { return nil })
	}
	return &handlerReceiver{r: r}
}

func (h *handlerReceiver) Recv(ctx context.Context) (any, error) { return h.r.Recv(ctx) }

// handlerSender adapts a stream.Writer over the response body into a
// registry.Sender for a ServerStream/DuplexStream handler.
type handlerSender struct {
	w *stream.Writer
}

func newHandlerSender(ctx context.Context, w http.ResponseWriter, encode func(any) ([]byte, error), maxSend int) *handlerSender {
	sink := flushingWriter{w: w}
	limited := func(record any) ([]byte, error) {
		payload, err := encode(record)
		if err != nil {
			return nil, err
		}
		if len(payload) > maxSend {
			return nil, status.New(status.ResourceExhausted, "stream frame of %d bytes exceeds max send size %d", len(payload), maxSend)
		}
		return payload, nil
	}
	return &handlerSender{w: stream.NewWriter(sink, limited, newServerStreamID(), deadline.Deadline{}, nil)}
}

func (h *handlerSender) Send(ctx context.Context, record any) error { return h.w.Send(ctx, record) }

func (h *handlerSender) close(ctx context.Context) error { return h.w.Close(ctx) }

// flushingWriter flushes the underlying http.ResponseWriter after every
// frame write, so a ServerStream/DuplexStream consumer sees each record
// as soon as the handler produces it instead of buffered until the
// handler returns.
type flushingWriter struct {
	w http.ResponseWriter
}

func (f flushingWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

func newServerStreamID() uint32 {
	// Server-side stream ids need not be globally unique like the
	// client's random pick; a fixed non-zero id satisfies the wire
	// format (§3: streamId in [1, 2^31-1]) since the spec treats it as a
	// trace-correlation aid, not a receiver-enforced identifier.
	return 1
}
