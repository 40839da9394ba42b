// Package repository provides a typed read store over one gorm model.
// Feature repositories keep raw SQL for locking, bulk writes and guarded
// updates; this store covers the plain lookup side.
package repository

import (
	"context"

	"github.com/smallbiznis/tally/pkg/db/option"
)

// Reader serves filtered lookups over T. A zero-value query matches
// everything; options narrow, order and bound the scan.
type Reader[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
}
