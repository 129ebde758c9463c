package events

import (
	"time"

	"google.golang.org/grpc/codes"
)

// RoundTripStart is emitted before an HTTP/2 request leaves the transport.
type RoundTripStart struct {
	Service string
	Method  string
	Target  string
}

// RoundTripFinish is emitted after the transport has a response or gave up.
// HTTPStatus is 0 and Err is set when no response arrived.
type RoundTripFinish struct {
	Service    string
	Method     string
	Target     string
	HTTPStatus int
	Code       codes.Code
	Err        error
	Duration   time.Duration
}
