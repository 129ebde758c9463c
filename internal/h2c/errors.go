package h2c

import "errors"

var (
	// ErrNoEndpoints indicates the provider returned no endpoints for a service.
	ErrNoEndpoints = errors.New("h2c: no endpoints available")
	// ErrInvalidBackend indicates a backend entry is not "service=host:port".
	ErrInvalidBackend = errors.New("h2c: invalid backend")
	// ErrClosed indicates the transport was used after Close.
	ErrClosed = errors.New("h2c: closed")
	// ErrResponseTooLarge indicates the response body exceeded MaxResponseBytes.
	ErrResponseTooLarge = errors.New("h2c: response body too large")
)
