package client

import (
	"context"

	"github.com/hanpama/grpcwire/internal/parser"
)

// Transport moves one framed request to the server and returns what came
// back. This interface allows for different transport implementations (real
// HTTP/2, mock, etc.).
// Implementations MUST be safe for concurrent use.
//
// A transport failure is reported either as a non-nil error or as a nil
// response; the client treats both as "no response".
//
// Provided implementations:
// - internal/h2c.Transport: HTTP/2 client with endpoint discovery and deadlines
// - MockTransport: pre-seeded responses for tests
type Transport interface {
	RoundTrip(ctx context.Context, fullMethod string, body []byte) (*parser.Response, error)
}
