package parser

import (
	"math"

	"github.com/hanpama/grpcwire/internal/codec"
	"github.com/hanpama/grpcwire/internal/frame"
)

// Options configures a Parser.
type Options struct {
	// StrictFrames rejects response frames whose length field does not match
	// the body size. Off by default.
	StrictFrames bool
}

type Option func(*Options)

func WithStrictFrames() Option { return func(o *Options) { o.StrictFrames = true } }

// Parser interprets responses. The zero value is ready to use.
type Parser struct {
	opts Options
}

func New(opts ...Option) Parser {
	var o Options
	for _, f := range opts {
		f(&o)
	}
	return Parser{opts: o}
}

// ParseResponse is Parser{}.Parse.
func ParseResponse(resp *Response, s codec.Strategy) (Outcome, error) {
	return Parser{}.Parse(resp, s)
}

// Parse turns resp into an Outcome. The checks run in order and the first
// match wins:
//
//  1. nil response: ("No response", NoResponse, nil)
//  2. HTTP status outside {0, 200, 400}: grpc-message or "Http status Error",
//     with the code taken from grpc-status, then ErrCode, then StatusCode
//  3. nonzero grpc-status: grpc-message or "Unknown error"
//  4. otherwise the body is decoded with s
//
// HTTP 400 passes step 2 on purpose; grpc-status decides in step 3.
// The returned error is non-nil only when step 4 fails to decode the body.
func (p Parser) Parse(resp *Response, s codec.Strategy) (Outcome, error) {
	if resp == nil {
		return Outcome{Result: MsgNoResponse, Code: NoResponse, kind: KindTransportAbsent}, nil
	}

	if IsInvalidStatus(resp.StatusCode) {
		msg, ok := resp.Header(HeaderGRPCMessage)
		if !ok {
			msg = MsgHTTPStatusError
		}
		code := resp.StatusCode
		if v, ok := resp.Header(HeaderGRPCStatus); ok {
			code = toInt(v)
		} else if resp.ErrCode != 0 {
			code = resp.ErrCode
		}
		return Outcome{Result: msg, Code: code, Response: resp, kind: KindHTTPStatus}, nil
	}

	if grpcStatus := headerInt(resp, HeaderGRPCStatus); grpcStatus != 0 {
		msg, ok := resp.Header(HeaderGRPCMessage)
		if !ok {
			msg = MsgUnknownError
		}
		return Outcome{Result: msg, Code: grpcStatus, Response: resp, kind: KindGRPC}, nil
	}

	reply, err := codec.DeserializeFrame(frame.Framer{Strict: p.opts.StrictFrames}, s, resp.Data)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Result: reply, Code: headerInt(resp, HeaderGRPCStatus), Response: resp}, nil
}

// IsInvalidStatus reports whether an HTTP status code rules out a gRPC reply.
func IsInvalidStatus(code int) bool {
	return code != 0 && code != 200 && code != 400
}

func headerInt(resp *Response, name string) int {
	v, ok := resp.Header(name)
	if !ok {
		return 0
	}
	return toInt(v)
}

// toInt converts leniently: leading whitespace, an optional sign, then the
// leading run of decimal digits. Anything else yields 0. Values beyond the
// int range saturate.
func toInt(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\v' || s[i] == '\f') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int(s[i] - '0')
		if n > (math.MaxInt-d)/10 {
			// out of range saturates, like a numeric cast
			if neg {
				return math.MinInt
			}
			return math.MaxInt
		}
		n = n*10 + d
	}
	if neg {
		return -n
	}
	return n
}
