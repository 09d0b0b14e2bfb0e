package hook_test

import (
	"context"
	"errors"
	"testing"

	"github.com/betwixt-labs/tempo/hook"
)

func TestRunOrdersMiddlewareBeforeTerminal(t *testing.T) {
	p := hook.New()
	var order []string
	p.Use(hook.PhaseRequest, func(ctx context.Context, extra any, next hook.Next) error {
		order = append(order, "first")
		return next(ctx)
	})
	p.Use(hook.PhaseRequest, func(ctx context.Context, extra any, next hook.Next) error {
		order = append(order, "second")
		return next(ctx)
	})
	err := p.Run(context.Background(), hook.PhaseRequest, nil, func(ctx context.Context) error {
		order = append(order, "terminal")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "terminal"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShortCircuitSkipsTerminal(t *testing.T) {
	p := hook.New()
	reached := false
	p.Use(hook.PhaseRequest, func(ctx context.Context, extra any, next hook.Next) error {
		return nil // never calls next
	})
	err := p.Run(context.Background(), hook.PhaseRequest, nil, func(ctx context.Context) error {
		reached = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if reached {
		t.Fatal("terminal should not run when a middleware short-circuits")
	}
}

func TestErrorPropagates(t *testing.T) {
	p := hook.New()
	boom := errors.New("boom")
	p.Use(hook.PhaseRequest, func(ctx context.Context, extra any, next hook.Next) error {
		return boom
	})
	err := p.Run(context.Background(), hook.PhaseRequest, nil, func(ctx context.Context) error {
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestDecodeExtraPassedThrough(t *testing.T) {
	p := hook.New()
	type record struct{ Name string }
	var seen *record
	p.Use(hook.PhaseDecode, func(ctx context.Context, extra any, next hook.Next) error {
		seen = extra.(*record)
		return next(ctx)
	})
	rec := &record{Name: "hello"}
	err := p.Run(context.Background(), hook.PhaseDecode, rec, func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if seen != rec {
		t.Fatal("decode hook did not see the record")
	}
}

func TestEmptyChainRunsTerminal(t *testing.T) {
	p := hook.New()
	ran := false
	if err := p.Run(context.Background(), hook.PhaseResponse, nil, func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("terminal should run when the chain is empty")
	}
}

func TestRunErrorFiresOnce(t *testing.T) {
	p := hook.New()
	calls := 0
	p.Use(hook.PhaseError, func(ctx context.Context, extra any, next hook.Next) error {
		calls++
		return next(ctx)
	})
	callErr := errors.New("failed")
	if err := p.RunError(context.Background(), callErr); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("error hook fired %d times, want 1", calls)
	}
}
