// ABOUTME: Context plumbing for the per-request event buffer
// ABOUTME: Record is a no-op when no buffer is attached

package eventlog

import (
	"context"

	"github.com/2389/passkey-gateway/internal/store"
)

type bufferKey struct{}

// WithBuffer returns a context carrying b.
func WithBuffer(ctx context.Context, b *Buffer) context.Context {
	return context.WithValue(ctx, bufferKey{}, b)
}

// FromContext returns the request's buffer, or nil.
func FromContext(ctx context.Context) *Buffer {
	b, _ := ctx.Value(bufferKey{}).(*Buffer)
	return b
}

// Record adds e to the request's buffer if there is one.
func Record(ctx context.Context, e *store.Event) {
	if b := FromContext(ctx); b != nil {
		b.Add(e)
	}
}
