// Set of post ids this agent knows to be flagged on the ledger.
//
// This is a local cache: the ledger is authoritative, and an empty store only
// costs an extra ledger lookup (or a reverted transaction) per post.
package flagstore

import (
	"context"
)

type FlagStore interface {
	Contains(ctx context.Context, postID uint64) (bool, error)
	Add(ctx context.Context, postID uint64) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
