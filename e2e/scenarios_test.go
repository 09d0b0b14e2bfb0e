package e2e_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/betwixt-labs/tempo/client"
	"github.com/betwixt-labs/tempo/codec"
	"github.com/betwixt-labs/tempo/deadline"
	"github.com/betwixt-labs/tempo/examples/greeter"
	"github.com/betwixt-labs/tempo/registry"
	"github.com/betwixt-labs/tempo/server"
	"github.com/betwixt-labs/tempo/status"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// recordingTransport wraps http.DefaultTransport, stashing the headers
// of the last request it sent and the last response it received, so
// scenario 1 can assert on the wire contract (§6) without a packet
// capture.
type recordingTransport struct {
	lastRequestHeaders  http.Header
	lastResponseHeaders http.Header
}

func (rt *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.lastRequestHeaders = req.Header.Clone()
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err == nil {
		rt.lastResponseHeaders = resp.Header.Clone()
	}
	return resp, err
}

// echoGreeter implements greeter.Service for scenarios 1-4, matching the
// literal inputs/outputs spelled out in spec §8.
type echoGreeter struct{}

func (echoGreeter) SayHello(_ context.Context, req *greeter.HelloRequest) (*greeter.HelloReply, error) {
	return greeter.Greeting(req.Name, -1), nil
}

func (echoGreeter) LotsOfReplies(ctx context.Context, req *greeter.HelloRequest, out registry.Sender) error {
	for i := 0; i < 10; i++ {
		if err := out.Send(ctx, greeter.Greeting(req.Name, i)); err != nil {
			return err
		}
	}
	return nil
}

func (echoGreeter) LotsOfGreetings(ctx context.Context, reqs registry.Receiver) (*greeter.HelloReply, error) {
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
	return &greeter.HelloReply{ServiceMessage: "You sent " + strconv.Itoa(count) + " messages"}, nil
}

func (echoGreeter) BidiHello(ctx context.Context, reqs registry.Receiver, out registry.Sender) error {
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

// newGreeterServer starts a server bound to a handler-carrying registry
// and returns, alongside it, a separate handler-less registry of the
// same descriptors for the client side: the two sides' Codec values
// differ (a client always encodes requests and decodes replies; the
// server the reverse), so they are deliberately not the same registry.
func newGreeterServer() (*httptest.Server, *registry.Registry) {
	serverReg := registry.New()
	Expect(greeter.Register(serverReg, echoGreeter{})).To(Succeed())
	rt := server.New(serverReg, server.Options{})

	clientReg := registry.New()
	Expect(greeter.RegisterDescriptors(clientReg)).To(Succeed())
	return httptest.NewServer(rt), clientReg
}

var _ = Describe("Unary happy path (scenario 1)", func() {
	It("round-trips a single record and stamps the wire envelope", func() {
		srv, reg := newGreeterServer()
		defer srv.Close()

		transport := &recordingTransport{}
		ch, err := client.New(srv.URL, client.Options{HTTPClient: &http.Client{Transport: transport}})
		Expect(err).NotTo(HaveOccurred())

		sayHello, _ := reg.Lookup(greeter.MethodSayHello)

		resp, err := ch.CallUnary(client.NewContext(context.Background()), sayHello, &greeter.HelloRequest{Name: "World"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.(*greeter.HelloReply).ServiceMessage).To(Equal("Hello World"))

		Expect(transport.lastRequestHeaders.Get("tempo-method")).To(Equal("7"))
		Expect(transport.lastRequestHeaders.Get("content-type")).To(Equal("application/tempo+bebop"))
		Expect(transport.lastResponseHeaders.Get("tempo-status")).To(Equal("0"))

		wantLen, _ := strconv.Atoi(transport.lastResponseHeaders.Get("content-length"))
		Expect(wantLen).To(BeNumerically(">", 0))
	})
})

var _ = Describe("Server stream (scenario 2)", func() {
	It("yields exactly ten records terminated by END_STREAM", func() {
		srv, reg := newGreeterServer()
		defer srv.Close()

		ch, err := client.New(srv.URL, client.Options{})
		Expect(err).NotTo(HaveOccurred())

		lotsOfReplies, _ := reg.Lookup(greeter.MethodLotsOfReplies)
		receiver, err := ch.CallServerStream(client.NewContext(context.Background()), lotsOfReplies, &greeter.HelloRequest{Name: "World"})
		Expect(err).NotTo(HaveOccurred())

		var got []string
		for {
			rec, err := receiver.Recv(context.Background())
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			got = append(got, rec.(*greeter.HelloReply).ServiceMessage)
		}
		Expect(got).To(HaveLen(10))
		Expect(got[0]).To(Equal("Hello World / 0"))
		Expect(got[9]).To(Equal("Hello World / 9"))
	})
})

var _ = Describe("Client stream (scenario 3)", func() {
	It("counts three uploaded records into a single reply", func() {
		srv, reg := newGreeterServer()
		defer srv.Close()

		ch, err := client.New(srv.URL, client.Options{})
		Expect(err).NotTo(HaveOccurred())

		lotsOfGreetings, _ := reg.Lookup(greeter.MethodLotsOfGreetings)
		upload := &sliceReceiver{records: []any{
			&greeter.HelloRequest{Name: "A"},
			&greeter.HelloRequest{Name: "B"},
			&greeter.HelloRequest{Name: "C"},
		}}
		resp, err := ch.CallClientStream(client.NewContext(context.Background()), lotsOfGreetings, upload)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.(*greeter.HelloReply).ServiceMessage).To(Equal("You sent 3 messages"))
	})
})

var _ = Describe("Duplex stream (scenario 4)", func() {
	It("preserves order across three echoed greetings", func() {
		srv, reg := newGreeterServer()
		defer srv.Close()

		ch, err := client.New(srv.URL, client.Options{})
		Expect(err).NotTo(HaveOccurred())

		bidiHello, _ := reg.Lookup(greeter.MethodBidiHello)
		upload := &sliceReceiver{records: []any{
			&greeter.HelloRequest{Name: "X"},
			&greeter.HelloRequest{Name: "Y"},
			&greeter.HelloRequest{Name: "Z"},
		}}
		receiver, err := ch.CallDuplexStream(client.NewContext(context.Background()), bidiHello, upload)
		Expect(err).NotTo(HaveOccurred())

		var got []string
		for {
			rec, err := receiver.Recv(context.Background())
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			got = append(got, rec.(*greeter.HelloReply).ServiceMessage)
		}
		Expect(got).To(Equal([]string{"Hello X", "Hello Y", "Hello Z"}))
	})
})

var _ = Describe("Retry (scenario 5)", func() {
	It("succeeds on the third attempt and reports two prior attempts to the server", func() {
		var failuresLeft int32 = 2
		var observedPrior atomic.Value

		reg := registry.New()
		desc := &registry.Descriptor{
			ID: 100, Service: "Flaky", Name: "Call", Shape: registry.Unary,
			Codec: codec.NewReflective(func() any { return &greeter.HelloRequest{} }),
			Unary: func(ctx context.Context, req any) (any, error) {
				sc := server.FromContext(ctx)
				if prior := sc.ClientMetadata.Get(deadline.PreviousAttemptsHeader); len(prior) > 0 {
					observedPrior.Store(prior[0])
				}
				if atomic.AddInt32(&failuresLeft, -1) >= 0 {
					return nil, status.New(status.Unavailable, "transient failure")
				}
				return req, nil
			},
		}
		Expect(reg.Register(desc)).To(Succeed())

		rt := server.New(reg, server.Options{MaxRetryAttempts: 5})
		srv := httptest.NewServer(rt)
		defer srv.Close()

		clientReg := registry.New()
		Expect(clientReg.Register(&registry.Descriptor{
			ID: 100, Service: "Flaky", Name: "Call", Shape: registry.Unary, Codec: desc.Codec,
		})).To(Succeed())
		clientDesc, _ := clientReg.Lookup(100)

		ch, err := client.New(srv.URL, client.Options{
			RetryPolicy: &deadline.Policy{
				MaxAttempts:    3,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     5 * time.Millisecond,
				Multiplier:     2,
				RetryableCodes: map[status.Code]bool{status.Unavailable: true},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		resp, err := ch.CallUnary(client.NewContext(context.Background()), clientDesc, &greeter.HelloRequest{Name: "World"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.(*greeter.HelloRequest).Name).To(Equal("World"))
		Expect(observedPrior.Load()).To(Equal("2"))
	})
})

var _ = Describe("Deadline expiry (scenario 6)", func() {
	It("fails the caller with DEADLINE_EXCEEDED when the handler overruns", func() {
		reg := registry.New()
		desc := &registry.Descriptor{
			ID: 101, Service: "Slow", Name: "Call", Shape: registry.Unary,
			Codec: codec.NewReflective(func() any { return &greeter.HelloRequest{} }),
			Unary: func(ctx context.Context, req any) (any, error) {
				time.Sleep(500 * time.Millisecond)
				return req, nil
			},
		}
		Expect(reg.Register(desc)).To(Succeed())

		rt := server.New(reg, server.Options{})
		srv := httptest.NewServer(rt)
		defer srv.Close()

		clientReg := registry.New()
		Expect(clientReg.Register(&registry.Descriptor{
			ID: 101, Service: "Slow", Name: "Call", Shape: registry.Unary, Codec: desc.Codec,
		})).To(Succeed())
		clientDesc, _ := clientReg.Lookup(101)

		ch, err := client.New(srv.URL, client.Options{})
		Expect(err).NotTo(HaveOccurred())

		cctx := client.NewContext(context.Background())
		cctx.Deadline = deadline.FromDuration(100 * time.Millisecond)

		_, callErr := ch.CallUnary(cctx, clientDesc, &greeter.HelloRequest{Name: "World"})
		Expect(status.Is(callErr, status.DeadlineExceeded)).To(BeTrue())
	})
})

// sliceReceiver adapts a fixed slice of records into a registry.Receiver
// for the upload legs of the client-stream/duplex scenarios.
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
