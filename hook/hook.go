// Package hook implements Tempo's four-phase middleware pipeline:
// ordered chains of request/decode/response/error middleware, each
// invoked with an explicit `next` continuation so a hook can
// short-circuit by never calling it. See DESIGN.md for the grounding of
// this shape.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package hook

import "context"

// Phase names the four points in a call's lifecycle where middleware can
// run.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseDecode   Phase = "decode"
	PhaseResponse Phase = "response"
	PhaseError    Phase = "error"
)

// Next invokes the remainder of the chain.
type Next func(ctx context.Context) error

// Middleware is one link in a phase's chain. extra carries phase-specific
// payload (the decoded record for PhaseDecode, the error for PhaseError,
// nil otherwise).
type Middleware func(ctx context.Context, extra any, next Next) error

// Pipeline holds the four ordered middleware chains attached to a client
// channel or server router. The zero value is a valid, empty Pipeline.
type Pipeline struct {
	chains map[Phase][]Middleware
}

// New returns an empty Pipeline.
func New() *Pipeline {
	return &Pipeline{chains: make(map[Phase][]Middleware)}
}

// Use appends mw to the end of phase's chain. Hooks may be attached once
// per channel/router construction; callers are expected to
// stop calling Use once the channel/router starts serving calls.
func (p *Pipeline) Use(phase Phase, mw Middleware) {
	if p.chains == nil {
		p.chains = make(map[Phase][]Middleware)
	}
	p.chains[phase] = append(p.chains[phase], mw)
}

// Run executes phase's chain in order, terminal being invoked once the
// last middleware calls next (or immediately, if the chain is empty). A
// middleware that never calls next short-circuits the rest of the chain
// and terminal is not invoked.
func (p *Pipeline) Run(ctx context.Context, phase Phase, extra any, terminal Next) error {
	chain := p.chains[phase]
	var run func(i int) error
	run = func(i int) error {
		if i >= len(chain) {
			return terminal(ctx)
		}
		return chain[i](ctx, extra, func(ctx context.Context) error {
			return run(i + 1)
		})
	}
	return run(0)
}

// RunError runs the error phase for a failed call. Error hooks fire
// exactly once per failed call; Run(..., PhaseError, err, ...) with a
// no-op terminal achieves that, since the caller decides whether to
// swallow or repropagate err after the hooks observe it.
func (p *Pipeline) RunError(ctx context.Context, callErr error) error {
	return p.Run(ctx, PhaseError, callErr, func(context.Context) error { return nil })
}
