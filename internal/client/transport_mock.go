package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/hanpama/grpcwire/internal/parser"
)

// CallRecord captures a single RoundTrip invocation for assertions.
type CallRecord struct {
	// FullMethod is "/<service full name>/<method>".
	FullMethod string
	// Body is a copy of the framed request.
	Body []byte
}

// MockTransport implements Transport and returns pre-seeded responses
// in order, while recording RoundTrip invocations for inspection.
type MockTransport struct {
	mu        sync.Mutex
	responses []*parser.Response
	errs      []error
	idx       int
	calls     []CallRecord
}

// NewMockTransport creates a MockTransport that will return the provided
// responses in order for successive RoundTrip() invocations. A nil entry
// simulates a request that got no response.
func NewMockTransport(responses ...*parser.Response) *MockTransport {
	cp := make([]*parser.Response, len(responses))
	copy(cp, responses)
	return &MockTransport{responses: cp}
}

// NewMockTransportWithErrors allows seeding per-call errors alongside responses.
// For call i, if errs[i] is non-nil, RoundTrip returns that error and ignores
// responses[i].
func NewMockTransportWithErrors(responses []*parser.Response, errs []error) *MockTransport {
	cp := make([]*parser.Response, len(responses))
	copy(cp, responses)
	ep := make([]error, len(errs))
	copy(ep, errs)
	return &MockTransport{responses: cp, errs: ep}
}

// RoundTrip records the invocation and returns the next queued response.
// If responses are exhausted, it returns an error.
func (m *MockTransport) RoundTrip(ctx context.Context, fullMethod string, body []byte) (*parser.Response, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, CallRecord{FullMethod: fullMethod, Body: append([]byte(nil), body...)})

	if m.idx >= len(m.responses) && m.idx >= len(m.errs) {
		return nil, fmt.Errorf("mock transport: no more responses")
	}
	if m.idx < len(m.errs) {
		if err := m.errs[m.idx]; err != nil {
			m.idx++
			return nil, err
		}
	}
	var resp *parser.Response
	if m.idx < len(m.responses) {
		resp = m.responses[m.idx]
	}
	m.idx++
	return resp, nil
}

// Calls returns a snapshot of recorded RoundTrip invocations.
func (m *MockTransport) Calls() []CallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallRecord, len(m.calls))
	copy(out, m.calls)
	return out
}
