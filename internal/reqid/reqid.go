package reqid

import (
	"context"

	"github.com/google/uuid"
)

// key is the context key for the request ID.
type key struct{}

// callKey is the context key for the call ID.
type callKey struct{}

// Header is the metadata key the transport uses to forward the ID.
const Header = "x-request-id"

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// Ensure returns ctx unchanged if it already carries an ID, otherwise it
// behaves like NewContext.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	return NewContext(ctx)
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(key{})
	id, ok := v.(string)
	return id, ok
}

// NewCall returns a copy of parent carrying a fresh call ID. A request ID
// can span several calls; the call ID identifies exactly one.
func NewCall(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, callKey{}, id), id
}

// CallFromContext extracts the call ID from ctx.
func CallFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callKey{}).(string)
	return id, ok
}
