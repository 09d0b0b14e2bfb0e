// Command tempo-greeter-server runs a Tempo server router exposing the
// Greeter example service over net/http, exercising all four call
// shapes end to end (spec §8). Structured after the teacher's
// cmd/authn/main.go: signal handling, flag parsing, startup logging via
// xlog.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betwixt-labs/tempo/auth"
	"github.com/betwixt-labs/tempo/config"
	"github.com/betwixt-labs/tempo/examples/greeter"
	"github.com/betwixt-labs/tempo/hook"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/server"
	"github.com/betwixt-labs/tempo/telemetry"
	"github.com/betwixt-labs/tempo/xlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownGrace = 5 * time.Second

// greeterImpl implements greeter.Service with the exact scenario
// behaviors from spec §8.
type greeterImpl struct{}

func (greeterImpl) SayHello(_ context.Context, req *greeter.HelloRequest) (*greeter.HelloReply, error) {
	return greeter.Greeting(req.Name, -1), nil
}

func (greeterImpl) LotsOfReplies(ctx context.Context, req *greeter.HelloRequest, out registry.Sender) error {
	for i := 0; i < 10; i++ {
		if err := out.Send(ctx, greeter.Greeting(req.Name, i)); err != nil {
			return err
		}
	}
	return nil
}

func (greeterImpl) LotsOfGreetings(ctx context.Context, reqs registry.Receiver) (*greeter.HelloReply, error) {
	count := 0
	for {
		_, err := reqs.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		count++
	}
	return &greeter.HelloReply{ServiceMessage: fmt.Sprintf("You sent %d messages", count)}, nil
}

func (greeterImpl) BidiHello(ctx context.Context, reqs registry.Receiver, out registry.Sender) error {
	for {
		rec, err := reqs.Recv(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		req := rec.(*greeter.HelloRequest)
		if err := out.Send(ctx, greeter.Greeting(req.Name, -1)); err != nil {
			return err
		}
	}
}

func main() {
	fs := flag.NewFlagSet("tempo-greeter-server", flag.ExitOnError)
	cfg := config.RegisterServerFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	xlog.SetVerbose(cfg.Verbose)

	reg := registry.New()
	if err := greeter.Register(reg, greeterImpl{}); err != nil {
		xlog.Errorf("failed to register Greeter service: %v", err)
		os.Exit(1)
	}

	var authn auth.Interceptor
	if cfg.JWTSecret != "" {
		authn = auth.NewJWTInterceptor([]byte(cfg.JWTSecret))
	}

	metrics := telemetry.New("tempo_server")
	hooks := hook.New()
	hooks.Use(hook.PhaseRequest, metrics.RequestHook())
	hooks.Use(hook.PhaseResponse, metrics.ResponseHook())
	hooks.Use(hook.PhaseError, metrics.ErrorHook())

	rt := server.New(reg, server.Options{
		CORS:                   server.CORSConfig{Enabled: cfg.CORS},
		TransmitInternalErrors: cfg.TransmitInternalErrors,
		Auth:                   authn,
		Hooks:                  hooks,
		Discovery: func() *server.Discovery {
			if !cfg.Discovery {
				return nil
			}
			return &server.Discovery{Tempo: "1", Language: "go", Runtime: "net/http", Variant: "tempo-greeter-server"}
		}(),
	})

	mux := http.NewServeMux()
	mux.Handle("/", rt)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			xlog.Infof("metrics listening on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				xlog.Errorf("metrics server failed: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		xlog.Infof("tempo-greeter-server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			xlog.Errorf("server failed: %v", err)
			os.Exit(1)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	xlog.Infoln("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
}
