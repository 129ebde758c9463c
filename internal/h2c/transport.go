package h2c

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/hanpama/grpcwire/internal/client"
	eventbus "github.com/hanpama/grpcwire/internal/eventbus"
	events "github.com/hanpama/grpcwire/internal/events"
	"github.com/hanpama/grpcwire/internal/parser"
	"github.com/hanpama/grpcwire/internal/reqid"
)

// Transport sends framed gRPC requests over HTTP/2 and collects the raw
// response. It integrates with an EndpointProvider for service discovery.
// Connection management, multiplexing and flow control are left to
// golang.org/x/net/http2.

type Transport struct {
	opts   *Options
	scheme string
	rt     *http2.Transport
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	rt := &http2.Transport{DisableCompression: true}
	scheme := "https"
	if o.TLSConfig != nil {
		rt.TLSClientConfig = o.TLSConfig
	} else {
		scheme = "http"
		rt.AllowHTTP = true
		rt.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		}
	}
	return &Transport{opts: o, scheme: scheme, rt: rt}
}

// Ensure we satisfy client.Transport
var _ client.Transport = (*Transport)(nil)

// RoundTrip posts body to fullMethod on one of the service's endpoints.
// Response headers and trailers are merged into one lowercase map, trailers
// taking precedence. A nil response is never returned without an error.
func (t *Transport) RoundTrip(ctx context.Context, fullMethod string, body []byte) (resp *parser.Response, err error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if t.opts.Provider == nil {
		return nil, fmt.Errorf("h2c: provider not configured")
	}
	service, method, ok := splitMethod(fullMethod)
	if !ok {
		return nil, fmt.Errorf("h2c: invalid method name %q", fullMethod)
	}

	// Determine deadline
	if _, ok := ctx.Deadline(); !ok && t.opts.RPCTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
		defer cancel()
	}

	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoints, service)
	}
	endpoint := endpoints[rand.IntN(len(endpoints))]
	if _, ok := reqid.CallFromContext(ctx); !ok {
		ctx, _ = reqid.NewCall(ctx)
	}

	req, err := t.newRequest(ctx, endpoint, fullMethod, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	eventbus.Publish(ctx, events.RoundTripStart{Service: service, Method: method, Target: endpoint})
	resp, err = t.do(req)
	finish := events.RoundTripFinish{
		Service:  service,
		Method:   method,
		Target:   endpoint,
		Code:     codes.Unavailable,
		Err:      err,
		Duration: time.Since(start),
	}
	if resp != nil {
		finish.HTTPStatus = resp.StatusCode
		finish.Code = grpcCode(resp)
	}
	eventbus.Publish(ctx, finish)
	return resp, err
}

// Close releases idle connections. Calls after Close fail with ErrClosed.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.rt.CloseIdleConnections()
	return nil
}

// ---------------- internals ----------------

func (t *Transport) newRequest(ctx context.Context, endpoint, fullMethod string, body []byte) (*http.Request, error) {
	url := t.scheme + "://" + endpoint + fullMethod
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("h2c: build request: %w", err)
	}
	req.ContentLength = int64(len(body))

	// metadata first so the protocol headers below cannot be overridden
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		for k, vs := range md {
			if reservedHeader(k) {
				continue
			}
			for _, v := range vs {
				if strings.HasSuffix(k, "-bin") {
					v = base64.RawStdEncoding.EncodeToString([]byte(v))
				}
				req.Header.Add(k, v)
			}
		}
	}
	if id, ok := reqid.FromContext(ctx); ok {
		req.Header.Set(reqid.Header, id)
	}
	req.Header.Set("Content-Type", "application/grpc")
	req.Header.Set("Te", "trailers")
	req.Header.Set("User-Agent", t.opts.UserAgent)
	if d, ok := ctx.Deadline(); ok {
		req.Header.Set("Grpc-Timeout", encodeTimeout(time.Until(d)))
	}
	return req, nil
}

func (t *Transport) do(req *http.Request) (*parser.Response, error) {
	hr, err := t.rt.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("h2c: %s: %w", req.URL.Path, err)
	}
	defer hr.Body.Close()

	var r io.Reader = hr.Body
	if t.opts.MaxResponseBytes > 0 {
		r = io.LimitReader(hr.Body, t.opts.MaxResponseBytes+1)
	}
	data, err := io.ReadAll(r)
	var errCode int
	if err != nil {
		// A reset after a non-gRPC status still has a status to report; the
		// HTTP/2 error code becomes ErrCode.
		var se http2.StreamError
		if !errors.As(err, &se) || !parser.IsInvalidStatus(hr.StatusCode) {
			return nil, fmt.Errorf("h2c: %s: read body: %w", req.URL.Path, err)
		}
		errCode = int(se.Code)
	}
	if t.opts.MaxResponseBytes > 0 && int64(len(data)) > t.opts.MaxResponseBytes {
		return nil, ErrResponseTooLarge
	}

	headers := make(map[string]string, len(hr.Header)+len(hr.Trailer))
	for k, vs := range hr.Header {
		if len(vs) > 0 {
			headers[strings.ToLower(k)] = vs[0]
		}
	}
	// trailers are only complete once the body has been consumed
	for k, vs := range hr.Trailer {
		if len(vs) > 0 {
			headers[strings.ToLower(k)] = vs[0]
		}
	}
	if msg, ok := headers[parser.HeaderGRPCMessage]; ok {
		headers[parser.HeaderGRPCMessage] = decodeGRPCMessage(msg)
	}
	return &parser.Response{StatusCode: hr.StatusCode, Headers: headers, Data: data, ErrCode: errCode}, nil
}

func splitMethod(fullMethod string) (service, method string, ok bool) {
	if !strings.HasPrefix(fullMethod, "/") {
		return "", "", false
	}
	service, method, ok = strings.Cut(fullMethod[1:], "/")
	return service, method, ok && service != "" && method != ""
}

func reservedHeader(k string) bool {
	switch k {
	case "content-type", "te", "user-agent", "grpc-timeout", "grpc-encoding", "grpc-accept-encoding", "connection", "host":
		return true
	}
	return strings.HasPrefix(k, ":")
}

func grpcCode(r *parser.Response) codes.Code {
	v, ok := r.Header(parser.HeaderGRPCStatus)
	if !ok {
		if r.StatusCode == http.StatusOK {
			return codes.OK
		}
		return codes.Unknown
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return codes.Unknown
	}
	return codes.Code(n)
}

// encodeTimeout renders d in the grpc-timeout format: at most eight digits
// followed by a unit.
func encodeTimeout(d time.Duration) string {
	const maxValue = 99999999
	if d <= 0 {
		return "0n"
	}
	units := []struct {
		size time.Duration
		sym  string
	}{
		{time.Nanosecond, "n"},
		{time.Microsecond, "u"},
		{time.Millisecond, "m"},
		{time.Second, "S"},
		{time.Minute, "M"},
		{time.Hour, "H"},
	}
	for _, u := range units {
		v := (d + u.size - 1) / u.size
		if v <= maxValue {
			return strconv.FormatInt(int64(v), 10) + u.sym
		}
	}
	return strconv.FormatInt(maxValue, 10) + "H"
}

// decodeGRPCMessage reverses the percent-encoding servers apply to
// grpc-message. Malformed escapes are kept verbatim.
func decodeGRPCMessage(msg string) string {
	if !strings.Contains(msg, "%") {
		return msg
	}
	var b strings.Builder
	b.Grow(len(msg))
	for i := 0; i < len(msg); i++ {
		if msg[i] == '%' && i+2 < len(msg) {
			if v, err := strconv.ParseUint(msg[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(v))
				i += 2
				continue
			}
		}
		b.WriteByte(msg[i])
	}
	return b.String()
}
