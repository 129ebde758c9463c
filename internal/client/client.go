// Package client performs unary gRPC calls on top of a Transport.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/hanpama/grpcwire/internal/codec"
	"github.com/hanpama/grpcwire/internal/eventbus"
	"github.com/hanpama/grpcwire/internal/events"
	"github.com/hanpama/grpcwire/internal/parser"
	"github.com/hanpama/grpcwire/internal/reqid"
)

// Client encodes requests, hands them to the transport and interprets the
// reply. It holds no per-call state and is safe for concurrent use.
type Client struct {
	transport Transport
	parser    parser.Parser
}

type Option func(*Client)

// WithParser replaces the default (lenient) response parser.
func WithParser(p parser.Parser) Option { return func(c *Client) { c.parser = p } }

func New(t Transport, opts ...Option) *Client {
	c := &Client{transport: t}
	for _, f := range opts {
		f(c)
	}
	return c
}

// Invoke calls fullMethod ("/pkg.Service/Method") with req and decodes the
// reply with s.
//
// Transport, HTTP and gRPC failures are all reported through the Outcome.
// The error is non-nil only when req cannot be serialized or the reply
// cannot be decoded.
func (c *Client) Invoke(ctx context.Context, fullMethod string, req any, s codec.Strategy) (parser.Outcome, error) {
	if c.transport == nil {
		return parser.Outcome{}, fmt.Errorf("client: transport not configured")
	}
	if !validMethod(fullMethod) {
		return parser.Outcome{}, fmt.Errorf("client: invalid method name %q", fullMethod)
	}
	ctx, _ = reqid.Ensure(ctx)
	ctx, _ = reqid.NewCall(ctx)

	body, err := codec.SerializeValue(req)
	if err != nil {
		return parser.Outcome{}, err
	}
	eventbus.Publish(ctx, events.FrameEncoded{FullMethod: fullMethod, Size: len(body)})

	resp, err := c.transport.RoundTrip(ctx, fullMethod, body)
	if err != nil {
		eventbus.Publish(ctx, events.TransportFailed{FullMethod: fullMethod, Err: err})
		resp = nil
	}

	out, err := c.parser.Parse(resp, s)
	eventbus.Publish(ctx, events.OutcomeParsed{FullMethod: fullMethod, Code: out.Code, Kind: out.Kind().String(), Err: err})
	if err != nil {
		return parser.Outcome{}, fmt.Errorf("client: %s: %w", fullMethod, err)
	}
	return out, nil
}

// validMethod accepts "/service/method" with both parts non-empty.
func validMethod(m string) bool {
	if !strings.HasPrefix(m, "/") {
		return false
	}
	svc, mth, ok := strings.Cut(m[1:], "/")
	return ok && svc != "" && mth != "" && !strings.Contains(mth, "/")
}
