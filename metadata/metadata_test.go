package metadata_test

import (
	"testing"

	"github.com/betwixt-labs/tempo/metadata"
	"github.com/betwixt-labs/tempo/status"
)

func TestToFromHTTPHeaderRoundTrip(t *testing.T) {
	m := metadata.New()
	must(t, m.Append("trace-id", "abc123"))
	must(t, m.Append("trace-id", "def456"))
	must(t, m.Append("x-region", "us-east"))
	must(t, m.AppendBinary("payload-bin", []byte{0xde, 0xad, 0xbe, 0xef}))

	wire := m.ToHTTPHeader()
	got, err := metadata.FromHTTPHeader(wire)
	if err != nil {
		t.Fatalf("FromHTTPHeader: %v", err)
	}
	for _, k := range m.Keys() {
		want := m.Get(k)
		have := got.Get(k)
		if len(want) != len(have) {
			t.Fatalf("key %q: got %v, want %v", k, have, want)
		}
		for i := range want {
			if want[i] != have[i] {
				t.Fatalf("key %q[%d]: got %q, want %q", k, i, have[i], want[i])
			}
		}
	}

	bin, err := got.GetBinary("payload-bin")
	if err != nil || len(bin) != 1 || string(bin[0]) != "\xde\xad\xbe\xef" {
		t.Fatalf("GetBinary round trip failed: %v %v", bin, err)
	}
}

func TestEscapedPipeInValue(t *testing.T) {
	m := metadata.New()
	must(t, m.Append("k", "a|b"))
	wire := m.ToHTTPHeader()
	if wire != `k:a\|b` {
		t.Fatalf("ToHTTPHeader = %q, want %q", wire, `k:a\|b`)
	}
	got, err := metadata.FromHTTPHeader(wire)
	if err != nil {
		t.Fatal(err)
	}
	if vals := got.Get("k"); len(vals) != 1 || vals[0] != "a|b" {
		t.Fatalf("got %v, want [a|b]", vals)
	}
}

func TestUnknownKeysSurviveRoundTrip(t *testing.T) {
	got, err := metadata.FromHTTPHeader("x-unknown-thing:hello")
	if err != nil {
		t.Fatal(err)
	}
	if vals := got.Get("x-unknown-thing"); len(vals) != 1 || vals[0] != "hello" {
		t.Fatalf("unknown key did not survive round trip: %v", vals)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	m := metadata.New()
	if err := m.Append("bad key!", "v"); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestNonPrintableValueRejected(t *testing.T) {
	m := metadata.New()
	if err := m.Append("k", "a\x01b"); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestFreezeBlocksMutators(t *testing.T) {
	m := metadata.New()
	m.Freeze()
	if err := m.Append("k", "v"); !status.Is(err, status.Internal) {
		t.Fatalf("Append on frozen metadata: got %v, want INTERNAL", err)
	}
	if err := m.Set("k", "v"); !status.Is(err, status.Internal) {
		t.Fatalf("Set on frozen metadata: got %v, want INTERNAL", err)
	}
}

func TestConcatNeverReplaces(t *testing.T) {
	a := metadata.New()
	must(t, a.Append("k", "a1"))
	b := metadata.New()
	must(t, b.Append("k", "b1"))
	must(t, b.Append("other", "x"))

	out, err := metadata.Concat(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Get("k"); len(got) != 2 || got[0] != "a1" || got[1] != "b1" {
		t.Fatalf("Concat(k) = %v, want [a1 b1]", got)
	}
	if got := out.Get("other"); len(got) != 1 || got[0] != "x" {
		t.Fatalf("Concat(other) = %v, want [x]", got)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
