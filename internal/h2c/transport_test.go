package h2c

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/hanpama/grpcwire/internal/client"
	"github.com/hanpama/grpcwire/internal/codec"
	"github.com/hanpama/grpcwire/internal/eventbus"
	"github.com/hanpama/grpcwire/internal/events"
	"github.com/hanpama/grpcwire/internal/frame"
	"github.com/hanpama/grpcwire/internal/parser"
	"github.com/hanpama/grpcwire/internal/reqid"
)

// newH2CServer serves h over cleartext HTTP/2 and returns its host:port.
func newH2CServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h2c.NewHandler(h, &http2.Server{}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func newTransport(t *testing.T, addr string, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{WithProvider(NewStaticEndpoints(map[string][]string{Wildcard: {addr}}))}, opts...)
	tr := New(opts...)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRoundTrip_RequestShapeAndTrailers(t *testing.T) {
	type seen struct {
		proto    int
		path     string
		ctype    string
		te       string
		timeout  string
		rid      string
		tenant   string
		traceBin string
		body     []byte
	}
	got := make(chan seen, 1)

	addr := newH2CServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- seen{
			proto:    r.ProtoMajor,
			path:     r.URL.Path,
			ctype:    r.Header.Get("Content-Type"),
			te:       r.Header.Get("Te"),
			timeout:  r.Header.Get("Grpc-Timeout"),
			rid:      r.Header.Get(reqid.Header),
			tenant:   r.Header.Get("X-Tenant"),
			traceBin: r.Header.Get("Trace-Bin"),
			body:     body,
		}
		w.Header().Set("Content-Type", "application/grpc")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame.Pack([]byte("pong")))
		w.Header().Set(http.TrailerPrefix+"Grpc-Status", "0")
		w.Header().Set(http.TrailerPrefix+"Grpc-Message", "all%20good")
	})

	tr := newTransport(t, addr)
	ctx, id := reqid.NewContext(context.Background())
	ctx = metadata.AppendToOutgoingContext(ctx, "x-tenant", "acme", "trace-bin", "\x01\x02", "content-type", "text/plain")
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := tr.RoundTrip(ctx, "/test.Echo/Say", frame.Pack([]byte("ping")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, frame.Pack([]byte("pong")), resp.Data)
	require.Equal(t, "0", resp.Headers["grpc-status"])
	require.Equal(t, "all good", resp.Headers["grpc-message"])
	require.Equal(t, "application/grpc", resp.Headers["content-type"])

	s := <-got
	require.Equal(t, 2, s.proto)
	require.Equal(t, "/test.Echo/Say", s.path)
	require.Equal(t, "application/grpc", s.ctype)
	require.Equal(t, "trailers", s.te)
	require.NotEmpty(t, s.timeout)
	require.Equal(t, id, s.rid)
	require.Equal(t, "acme", s.tenant)
	require.Equal(t, "AQI", s.traceBin)
	require.Equal(t, frame.Pack([]byte("ping")), s.body)
}

func TestRoundTrip_TrailersOnlyError(t *testing.T) {
	addr := newH2CServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc")
		w.Header().Set("Grpc-Status", "5")
		w.Header().Set("Grpc-Message", "missing")
		w.WriteHeader(http.StatusOK)
	})

	out, err := client.New(newTransport(t, addr)).Invoke(context.Background(), "/test.Echo/Say", nil, codec.For[*wrapperspb.StringValue]())
	require.NoError(t, err)
	require.Equal(t, "missing", out.Result)
	require.Equal(t, 5, out.Code)
}

func TestRoundTrip_HTTPFailureStatus(t *testing.T) {
	addr := newH2CServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	out, err := client.New(newTransport(t, addr)).Invoke(context.Background(), "/test.Echo/Say", nil, codec.For[*wrapperspb.StringValue]())
	require.NoError(t, err)
	require.Equal(t, parser.MsgHTTPStatusError, out.Result)
	require.Equal(t, http.StatusServiceUnavailable, out.Code)
}

func TestRoundTrip_ResponseTooLarge(t *testing.T) {
	addr := newH2CServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc")
		_, _ = w.Write(frame.Pack(make([]byte, 64)))
	})

	_, err := newTransport(t, addr, WithMaxResponseBytes(16)).RoundTrip(context.Background(), "/test.Echo/Say", frame.Pack(nil))
	require.ErrorIs(t, err, ErrResponseTooLarge)
}

// resetAfterHeaders sends status with its headers and then resets the stream.
func resetAfterHeaders(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}
}

func TestRoundTrip_ResetAfterInvalidStatusSetsErrCode(t *testing.T) {
	addr := newH2CServer(t, resetAfterHeaders(http.StatusBadGateway))

	resp, err := newTransport(t, addr).RoundTrip(context.Background(), "/test.Echo/Say", frame.Pack(nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int(http2.ErrCodeInternal), resp.ErrCode)

	out, err := parser.ParseResponse(resp, codec.For[*wrapperspb.StringValue]())
	require.NoError(t, err)
	require.Equal(t, parser.MsgHTTPStatusError, out.Result)
	require.Equal(t, int(http2.ErrCodeInternal), out.Code)
}

func TestRoundTrip_ResetAfterOKIsTransportError(t *testing.T) {
	addr := newH2CServer(t, resetAfterHeaders(http.StatusOK))

	_, err := newTransport(t, addr).RoundTrip(context.Background(), "/test.Echo/Say", frame.Pack(nil))
	var se http2.StreamError
	require.ErrorAs(t, err, &se)
}

type emptyProvider struct{}

func (emptyProvider) Endpoints(context.Context, string) ([]string, error) { return nil, nil }

func TestRoundTrip_EmptyEndpointList(t *testing.T) {
	_, err := New(WithProvider(emptyProvider{})).RoundTrip(context.Background(), "/test.Echo/Say", nil)
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRoundTrip_NoServerIsNoResponse(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	out, err := client.New(newTransport(t, addr, WithRPCTimeout(time.Second))).Invoke(context.Background(), "/test.Echo/Say", nil, nil)
	require.NoError(t, err)
	require.Equal(t, parser.NoResponse, out.Code)
	require.Equal(t, parser.MsgNoResponse, out.Result)
}

func TestRoundTrip_Preconditions(t *testing.T) {
	_, err := New().RoundTrip(context.Background(), "/test.Echo/Say", nil)
	require.Error(t, err)

	tr := New(WithProvider(NewStaticEndpoints(map[string][]string{"other.Svc": {"127.0.0.1:1"}})))
	_, err = tr.RoundTrip(context.Background(), "/test.Echo/Say", nil)
	require.ErrorIs(t, err, ErrNoEndpoints)

	_, err = tr.RoundTrip(context.Background(), "test.Echo/Say", nil)
	require.Error(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, err = tr.RoundTrip(context.Background(), "/other.Svc/M", nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestRoundTrip_PublishesEvents(t *testing.T) {
	addr := newH2CServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/grpc")
		w.Header().Set("Grpc-Status", "7")
		w.WriteHeader(http.StatusOK)
	})

	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	starts := make(chan events.RoundTripStart, 1)
	finishes := make(chan events.RoundTripFinish, 1)
	eventbus.Subscribe(func(_ context.Context, e events.RoundTripStart) { starts <- e })
	eventbus.Subscribe(func(_ context.Context, e events.RoundTripFinish) { finishes <- e })

	_, err := newTransport(t, addr).RoundTrip(context.Background(), "/test.Echo/Say", frame.Pack(nil))
	require.NoError(t, err)

	s := <-starts
	require.Equal(t, "test.Echo", s.Service)
	require.Equal(t, "Say", s.Method)
	require.Equal(t, addr, s.Target)
	f := <-finishes
	require.Equal(t, http.StatusOK, f.HTTPStatus)
	require.Equal(t, codes.PermissionDenied, f.Code)
	require.NoError(t, f.Err)
}

func TestStaticEndpoints(t *testing.T) {
	p := NewStaticEndpoints(map[string][]string{Wildcard: {"default:1"}, "a.Svc": {"a:1", "a:2"}})
	eps, err := p.Endpoints(context.Background(), "a.Svc")
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "a:2"}, eps)

	eps, err = p.Endpoints(context.Background(), "b.Svc")
	require.NoError(t, err)
	require.Equal(t, []string{"default:1"}, eps)

	p.Set("b.Svc", "b:1")
	eps, err = p.Endpoints(context.Background(), "b.Svc")
	require.NoError(t, err)
	require.Equal(t, []string{"b:1"}, eps)

	_, err = NewStaticEndpoints(nil).Endpoints(context.Background(), "a.Svc")
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestParseBackends(t *testing.T) {
	p, err := ParseBackends("a.Svc=a:1", " a.Svc = a:2 ", "*=[::1]:50051")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.Svc", Wildcard}, p.Services())

	eps, err := p.Endpoints(context.Background(), "a.Svc")
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "a:2"}, eps)
	eps, err = p.Endpoints(context.Background(), "other.Svc")
	require.NoError(t, err)
	require.Equal(t, []string{"[::1]:50051"}, eps)

	for _, b := range []string{"a.Svc", "=a:1", "a.Svc=", "a.Svc=nohost"} {
		_, err := ParseBackends(b)
		require.ErrorIs(t, err, ErrInvalidBackend, b)
	}
}

func TestEncodeTimeout(t *testing.T) {
	cases := map[time.Duration]string{
		0:                      "0n",
		-time.Second:           "0n",
		time.Nanosecond:        "1n",
		99999999:               "99999999n",
		100 * time.Millisecond: "100000u",
		3 * time.Second:        "3000000u",
		200 * time.Second:      "200000m",
		30 * time.Hour:         "108000S",
	}
	for in, want := range cases {
		require.Equal(t, want, encodeTimeout(in), "encodeTimeout(%v)", in)
	}
}

func TestDecodeGRPCMessage(t *testing.T) {
	require.Equal(t, "plain", decodeGRPCMessage("plain"))
	require.Equal(t, "a b%", decodeGRPCMessage("a%20b%25"))
	require.Equal(t, "bad %zz", decodeGRPCMessage("bad %zz"))
	require.Equal(t, "tail %4", decodeGRPCMessage("tail %4"))
}

// A real grpc-go server on the other end of the wire.
func TestInvoke_GRPCHealthServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("grpcwire.Down", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c := client.New(newTransport(t, lis.Addr().String()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	check := codec.For[*healthpb.HealthCheckResponse]()

	out, err := c.Invoke(ctx, "/grpc.health.v1.Health/Check", &healthpb.HealthCheckRequest{}, check)
	require.NoError(t, err)
	require.True(t, out.OK(), "outcome: %v %v", out.Code, out.Result)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, out.Result.(*healthpb.HealthCheckResponse).GetStatus())

	out, err = c.Invoke(ctx, "/grpc.health.v1.Health/Check", &healthpb.HealthCheckRequest{Service: "grpcwire.Down"}, check)
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, out.Result.(*healthpb.HealthCheckResponse).GetStatus())

	out, err = c.Invoke(ctx, "/grpc.health.v1.Health/Check", &healthpb.HealthCheckRequest{Service: "nope"}, check)
	require.NoError(t, err)
	require.Equal(t, int(codes.NotFound), out.Code)
	require.Equal(t, parser.KindGRPC, out.Kind())
	require.Equal(t, "unknown service", out.Result)

	out, err = c.Invoke(ctx, "/grpc.health.v1.Health/Nope", nil, check)
	require.NoError(t, err)
	require.Equal(t, int(codes.Unimplemented), out.Code)
}
