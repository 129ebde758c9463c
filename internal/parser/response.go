// Package parser interprets raw HTTP/2 gRPC responses.
//
// Every response, successful or not, is reported as an Outcome. Transport
// absence, HTTP failures and gRPC application errors share that shape so
// callers branch on Outcome.Code alone. Only a payload that cannot be decoded
// surfaces as a Go error.
package parser

import (
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// NoResponse is the status reported when no response reached the parser.
	NoResponse = -1

	MsgNoResponse      = "No response"
	MsgHTTPStatusError = "Http status Error"
	MsgUnknownError    = "Unknown error"

	HeaderGRPCStatus  = "grpc-status"
	HeaderGRPCMessage = "grpc-message"
)

// Response is the part of an HTTP/2 response the parser reads. Header names
// are expected in lowercase; Header falls back to a case-insensitive match.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Data       []byte
	// ErrCode is the transport error code, 0 when there is none. The h2c
	// transport reports the HTTP/2 RST_STREAM code here when a response with
	// a non-gRPC status is reset before its body completes.
	ErrCode int
}

// Header returns the value of the named header and whether it is present.
func (r *Response) Header(name string) (string, bool) {
	if r == nil || r.Headers == nil {
		return "", false
	}
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// ErrorKind classifies an Outcome.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindTransportAbsent
	KindHTTPStatus
	KindGRPC
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransportAbsent:
		return "transport_absent"
	case KindHTTPStatus:
		return "http_status"
	case KindGRPC:
		return "grpc"
	}
	return "unknown"
}

// Outcome is the uniform result of ParseResponse.
//
// On success Code is 0 and Result holds the decoded message, or nil when the
// server sent none. On failure Result holds the error message string.
type Outcome struct {
	Result   any
	Code     int
	Response *Response

	kind ErrorKind
}

// OK reports whether the call succeeded, i.e. Code is 0.
func (o Outcome) OK() bool { return o.Code == 0 }

// Kind reports which layer produced the outcome.
func (o Outcome) Kind() ErrorKind { return o.kind }

// Message returns the error message, or "" when no layer failed.
func (o Outcome) Message() string {
	if o.kind == KindNone {
		return ""
	}
	s, _ := o.Result.(string)
	return s
}

// Err converts a failed outcome into a gRPC status error, nil when no layer
// failed. Transport and HTTP failures whose code is not a gRPC code map to
// codes.Unavailable; anything else out of range maps to codes.Unknown.
func (o Outcome) Err() error {
	if o.kind == KindNone {
		return nil
	}
	code := codes.Code(o.Code)
	switch {
	case o.Code > 0 && o.Code <= int(codes.Unauthenticated):
	case o.kind == KindTransportAbsent || o.kind == KindHTTPStatus:
		code = codes.Unavailable
	default:
		code = codes.Unknown
	}
	return status.Error(code, o.Message())
}
