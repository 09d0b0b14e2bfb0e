package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/betwixt-labs/tempo/client"
	"github.com/betwixt-labs/tempo/codec"
	"github.com/betwixt-labs/tempo/metadata"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/status"
)

type echoMsg struct {
	Text string `json:"text"`
}

func echoDescriptor() *registry.Descriptor {
	return &registry.Descriptor{
		ID:      1,
		Service: "greeter",
		Name:    "Echo",
		Shape:   registry.Unary,
		Codec:   codec.NewReflective(func() any { return &echoMsg{} }),
	}
}

func TestNewRefusesInsecureSecureCredential(t *testing.T) {
	cred := secureCred{}
	_, err := client.New("http://insecure.example", client.Options{Credential: cred})
	if !status.Is(err, status.InvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}

func TestNewAllowsInsecureWithOptIn(t *testing.T) {
	cred := secureCred{}
	_, err := client.New("http://insecure.example", client.Options{
		Credential:          cred,
		UnsafeAllowInsecure: true,
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
}

func TestCallUnaryAttachesCredentialHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("authorization")
		w.Header().Set("content-type", codec.ContentType(codec.JSON))
		w.Header().Set("tempo-status", "0")
		w.Header().Set("tempo-message", "OK")
		w.Header().Set("content-length", "13")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"hi"}`))
	}))
	defer ts.Close()

	ch, err := client.New(ts.URL, client.Options{
		Codec:      codec.JSON,
		Credential: tokenCred{token: "Bearer abc123"},
	})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	cctx := client.NewContext(context.Background())
	resp, err := ch.CallUnary(cctx, echoDescriptor(), &echoMsg{Text: "x"})
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if got := resp.(*echoMsg).Text; got != "hi" {
		t.Fatalf("response = %q, want hi", got)
	}
	if gotAuth != "Bearer abc123" {
		t.Fatalf("authorization header = %q, want Bearer abc123", gotAuth)
	}
}

func TestCallUnaryPropagatesServerStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", codec.ContentType(codec.JSON))
		w.Header().Set("tempo-status", "5") // NotFound
		w.Header().Set("tempo-message", "no such thing")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	ch, err := client.New(ts.URL, client.Options{Codec: codec.JSON})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	cctx := client.NewContext(context.Background())
	_, err = ch.CallUnary(cctx, echoDescriptor(), &echoMsg{Text: "x"})
	if !status.Is(err, status.NotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestCallUnaryRejectsMissingStatusHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	ch, err := client.New(ts.URL, client.Options{Codec: codec.JSON})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	cctx := client.NewContext(context.Background())
	_, err = ch.CallUnary(cctx, echoDescriptor(), &echoMsg{Text: "x"})
	if status.From(err) != status.Unknown {
		t.Fatalf("err = %v, want UNKNOWN", err)
	}
}

func TestCallUnaryStoresReturnedCredential(t *testing.T) {
	cred := NewCredentialForTest(t)
	wire, err := metadata.StringifyCredential(cred)
	if err != nil {
		t.Fatalf("StringifyCredential: %v", err)
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", codec.ContentType(codec.JSON))
		w.Header().Set("tempo-status", "0")
		w.Header().Set("tempo-message", "OK")
		w.Header().Set("content-length", "13")
		w.Header().Set("tempo-credential", wire)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"hi"}`))
	}))
	defer ts.Close()

	store := &recordingStore{}
	ch, err := client.New(ts.URL, client.Options{Codec: codec.JSON, Credential: store})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	cctx := client.NewContext(context.Background())
	if _, err := ch.CallUnary(cctx, echoDescriptor(), &echoMsg{Text: "x"}); err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if store.stored == nil {
		t.Fatal("expected Store to be called with the response credential")
	}
}

func NewCredentialForTest(t *testing.T) *metadata.Credential {
	t.Helper()
	c := metadata.NewCredential()
	c.Set("sub", metadata.VString("alice"))
	return c
}

type secureCred struct{}

func (secureCred) GetHeader(context.Context) (string, error)         { return "", nil }
func (secureCred) Store(context.Context, *metadata.Credential) error { return nil }
func (secureCred) RequiresSecureChannel() bool                       { return true }

type tokenCred struct{ token string }

func (t tokenCred) GetHeader(context.Context) (string, error)         { return t.token, nil }
func (t tokenCred) Store(context.Context, *metadata.Credential) error { return nil }
func (t tokenCred) RequiresSecureChannel() bool                       { return false }

type recordingStore struct {
	stored *metadata.Credential
}

func (s *recordingStore) GetHeader(context.Context) (string, error) { return "", nil }
func (s *recordingStore) Store(_ context.Context, c *metadata.Credential) error {
	s.stored = c
	return nil
}
func (s *recordingStore) RequiresSecureChannel() bool { return false }
