// Command tempo-greeter-client drives a tempo-greeter-server through
// all four call shapes (spec §8 scenarios 1-4), printing each result.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/betwixt-labs/tempo/client"
	"github.com/betwixt-labs/tempo/codec"
	"github.com/betwixt-labs/tempo/config"
	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/examples/greeter"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/xlog"
)

// sliceReceiver adapts a fixed slice of records into a registry.Receiver
// for the client-stream/duplex upload legs.
type sliceReceiver struct {
	records []any
	i       int
}

func (s *sliceReceiver) Recv(context.Context) (any, error) {
	if s.i >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.i]
	s.i++
	return r, nil
}

func main() {
	fs := flag.NewFlagSet("tempo-greeter-client", flag.ExitOnError)
	cfg := config.RegisterClientFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	xlog.SetVerbose(cfg.Verbose)

	codecName := codec.Bebop
	if cfg.Codec == "json" {
		codecName = codec.JSON
	}

	ch, err := client.New(cfg.Target, client.Options{Codec: codecName})
	if err != nil {
		xlog.Errorf("failed to construct channel: %v", err)
		os.Exit(1)
	}

	reg := registry.New()
	if err := greeter.RegisterDescriptors(reg); err != nil {
		xlog.Errorf("failed to build method descriptors: %v", err)
		os.Exit(1)
	}

	newCtx := func() *client.Context {
		cctx := client.NewContext(context.Background())
		if cfg.DeadlineMS > 0 {
			cctx.Deadline = deadline.FromDuration(time.Duration(cfg.DeadlineMS) * time.Millisecond)
		}
		return cctx
	}

	sayHello, _ := reg.Lookup(greeter.MethodSayHello)
	resp, err := ch.CallUnary(newCtx(), sayHello, &greeter.HelloRequest{Name: "World"})
	if err != nil {
		xlog.Errorf("SayHello failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("SayHello: %s\n", resp.(*greeter.HelloReply).ServiceMessage)

	lotsOfReplies, _ := reg.Lookup(greeter.MethodLotsOfReplies)
	stream, err := ch.CallServerStream(newCtx(), lotsOfReplies, &greeter.HelloRequest{Name: "World"})
	if err != nil {
		xlog.Errorf("LotsOfReplies failed: %v", err)
		os.Exit(1)
	}
	for {
		rec, err := stream.Recv(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			xlog.Errorf("LotsOfReplies stream failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("LotsOfReplies: %s\n", rec.(*greeter.HelloReply).ServiceMessage)
	}

	lotsOfGreetings, _ := reg.Lookup(greeter.MethodLotsOfGreetings)
	upload := &sliceReceiver{records: []any{
		&greeter.HelloRequest{Name: "A"},
		&greeter.HelloRequest{Name: "B"},
		&greeter.HelloRequest{Name: "C"},
	}}
	resp, err = ch.CallClientStream(newCtx(), lotsOfGreetings, upload)
	if err != nil {
		xlog.Errorf("LotsOfGreetings failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("LotsOfGreetings: %s\n", resp.(*greeter.HelloReply).ServiceMessage)

	bidiHello, _ := reg.Lookup(greeter.MethodBidiHello)
	bidiUpload := &sliceReceiver{records: []any{
		&greeter.HelloRequest{Name: "X"},
		&greeter.HelloRequest{Name: "Y"},
		&greeter.HelloRequest{Name: "Z"},
	}}
	bidi, err := ch.CallDuplexStream(newCtx(), bidiHello, bidiUpload)
	if err != nil {
		xlog.Errorf("BidiHello failed: %v", err)
		os.Exit(1)
	}
	for {
		rec, err := bidi.Recv(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			xlog.Errorf("BidiHello stream failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("BidiHello: %s\n", rec.(*greeter.HelloReply).ServiceMessage)
	}
}
