// Package stream implements the Tempo stream pump: the
// reader/writer pair that turns a sequence of records into a framed byte
// stream and back, over an arbitrary io.Reader/io.Writer body. In the
// shape of a transport Read/send state machine with fixed-header framing,
// simplified down to one stream per call.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package stream

import (
	"bufio"
	"context"
	"io"

	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/frame"
	"github.com/betwixt-labs/tempo/status"
)

// EncodeFunc/DecodeFunc convert between a record and its wire bytes, the
// method descriptor's per-shape codec (registry.Codec) bound to either
// Encode/Decode or EncodeJSON/DecodeJSON depending on content codec.
type EncodeFunc func(record any) ([]byte, error)
type DecodeFunc func(data []byte) (any, error)

// Writer encodes the records passed to Send into a framed body,
// writing a terminal END_STREAM frame on Close. Per resolved
// open question, the writer never emits a trailing CRLF after a payload.
type Writer struct {
	sink     io.Writer
	encode   EncodeFunc
	streamID uint32
	deadline deadline.Deadline
	cancel   <-chan struct{}
	closed   bool
}

func NewWriter(sink io.Writer, encode EncodeFunc, streamID uint32, d deadline.Deadline, cancel <-chan struct{}) *Writer {
	return &Writer{sink: sink, encode: encode, streamID: streamID, deadline: d, cancel: cancel}
}

// Send encodes record and writes one data frame. If the Writer's deadline
// fires mid-write, it returns status.DeadlineExceeded; if cancel fires,
// status.Aborted.
func (w *Writer) Send(ctx context.Context, record any) error {
	if w.closed {
		return status.New(status.Internal, "write on a closed stream writer")
	}
	payload, err := w.encode(record)
	if err != nil {
		return status.Wrap(status.InvalidArgument, err)
	}
	return w.writeFrame(ctx, payload, 0)
}

// Close writes the terminal END_STREAM frame and marks the writer
// unusable for further sends.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.writeFrame(ctx, nil, frame.FlagEndStream)
}

func (w *Writer) writeFrame(ctx context.Context, payload []byte, flags frame.Flags) error {
	buf := make([]byte, frame.HeaderSize+len(payload))
	if err := frame.WriteHeader(buf, 0, frame.Header{
		Length:   uint32(len(payload)),
		Flags:    flags,
		StreamID: w.streamID,
	}); err != nil {
		return err
	}
	copy(buf[frame.HeaderSize:], payload)

	write := func(wctx context.Context) (struct{}, error) {
		_, err := w.sink.Write(buf)
		return struct{}{}, err
	}
	if w.deadline.Zero() && w.cancel == nil {
		_, err := write(ctx)
		return mapIOErr(err)
	}
	_, err := deadline.Race(ctx, w.deadline, w.cancel, write)
	return mapIOErr(err)
}

func mapIOErr(err error) error {
	if err == nil {
		return nil
	}
	if status.From(err) != status.Unknown {
		return err // already a status.Error (DeadlineExceeded / Aborted)
	}
	return status.Wrap(status.Unavailable, err)
}

// Reader decodes a framed body back into a sequence of records. OnDecode,
// if set, is invoked with each record immediately after it is decoded and
// before Recv returns it — this is where streaming decode hooks run, at
// record granularity rather than at the call boundary.
type Reader struct {
	br       *bufio.Reader
	decode   DecodeFunc
	deadline deadline.Deadline
	cancel   <-chan struct{}
	OnDecode func(record any) error

	endSeen bool
	hdrBuf  [frame.HeaderSize]byte
}

func NewReader(source io.Reader, decode DecodeFunc, d deadline.Deadline, cancel <-chan struct{}) *Reader {
	return &Reader{br: bufio.NewReader(source), decode: decode, deadline: d, cancel: cancel}
}

// Recv returns the next decoded record, or io.EOF once the END_STREAM
// frame has been consumed. A source that ends mid-frame (before
// END_STREAM) yields status.DataLoss naming the number of bytes lost.
func (r *Reader) Recv(ctx context.Context) (any, error) {
	if r.endSeen {
		return nil, io.EOF
	}
	for {
		h, lost, err := r.readHeader(ctx)
		if err != nil {
			return nil, err
		}
		if lost > 0 {
			return nil, status.New(status.DataLoss, "stream ended mid-frame, lost %d bytes", lost)
		}
		if h.Flags.Has(frame.FlagEndStream) {
			r.endSeen = true
			return nil, io.EOF
		}
		if h.Length == 0 {
			continue // heartbeat frame, keep reading
		}
		payload, lost, err := r.readPayload(ctx, h.Length)
		if err != nil {
			return nil, err
		}
		if lost > 0 {
			return nil, status.New(status.DataLoss, "stream ended mid-frame, lost %d bytes", lost)
		}
		r.tolerateCRLF()

		record, err := r.decode(payload)
		if err != nil {
			return nil, status.Wrap(status.InvalidArgument, err)
		}
		if r.OnDecode != nil {
			if err := r.OnDecode(record); err != nil {
				return nil, err
			}
		}
		return record, nil
	}
}

// readHeader reads exactly 9 bytes. lost > 0 and err == nil signals a
// non-empty partial frame at EOF.
func (r *Reader) readHeader(ctx context.Context) (h frame.Header, lost int, err error) {
	n, readErr := r.readFull(ctx, r.hdrBuf[:])
	if readErr != nil && readErr != io.EOF {
		return frame.Header{}, 0, readErr
	}
	if n < frame.HeaderSize {
		if n == 0 {
			return frame.Header{}, 0, io.EOF
		}
		return frame.Header{}, n, nil
	}
	h, herr := frame.ReadHeader(r.hdrBuf[:], 0)
	return h, 0, herr
}

func (r *Reader) readPayload(ctx context.Context, length uint32) (payload []byte, lost int, err error) {
	buf := make([]byte, length)
	n, readErr := r.readFull(ctx, buf)
	if readErr != nil && readErr != io.EOF {
		return nil, 0, readErr
	}
	if uint32(n) < length {
		// The frame's header was already consumed, so it counts as lost too.
		return nil, frame.HeaderSize + n, nil
	}
	return buf, 0, nil
}

// readFull performs io.ReadFull, racing the blocking read against the
// reader's deadline/cancel if either is set. Returns (n, io.EOF) for a
// clean or partial end-of-stream rather than io.ErrUnexpectedEOF, so the
// caller can distinguish "lost n bytes" from "clean EOF, n==0".
func (r *Reader) readFull(ctx context.Context, buf []byte) (int, error) {
	read := func(rctx context.Context) (int, error) {
		n, err := io.ReadFull(r.br, buf)
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return n, err
	}
	if r.deadline.Zero() && r.cancel == nil {
		return read(ctx)
	}
	n, err := deadline.Race(ctx, r.deadline, r.cancel, read)
	if err != nil && status.From(err) != status.Unknown {
		return n, err // DeadlineExceeded / Aborted
	}
	return n, err
}

// tolerateCRLF skips an optional "\r\n" pair immediately following a
// payload, for interop with a legacy sender that writes one.
func (r *Reader) tolerateCRLF() {
	peek, err := r.br.Peek(2)
	if err != nil || len(peek) != 2 {
		return
	}
	if peek[0] == '\r' && peek[1] == '\n' {
		_, _ = r.br.Discard(2)
	}
}
