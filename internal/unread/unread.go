// Package unread caches per-recipient unread notification counts.
//
// Every cached value is tied to a generation counter. Invalidate bumps the
// generation, and Store only writes when the generation it was handed by
// Lookup is still current, so a count computed before an invalidation can
// never overwrite the invalidation.
package unread

import (
	"context"
	"time"
)

const DefaultTTL = 30 * time.Second

type Cache interface {
	// Lookup returns the cached count when ok is true. Otherwise gen must be
	// passed to Store along with the freshly computed count.
	Lookup(ctx context.Context, recipientID string) (count int, gen int64, ok bool, err error)
	Store(ctx context.Context, recipientID string, gen int64, count int) error
	Invalidate(ctx context.Context, recipientID string) error
	Ping(ctx context.Context) error
}
