package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/tally/pkg/db/option"
	"gorm.io/gorm"
)

type reader[T any] struct {
	db *gorm.DB
}

// NewReader returns a Reader over T backed by db.
func NewReader[T any](db *gorm.DB) Reader[T] {
	return &reader[T]{db: db}
}

func (r *reader[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	var items []*T
	err := r.scope(ctx, query, opts...).Find(&items).Error
	return items, err
}

// FindOne returns nil, nil on a miss so callers map absence to their own
// not-found vocabulary.
func (r *reader[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	var item T
	err := r.scope(ctx, query, opts...).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *reader[T]) scope(ctx context.Context, query *T, opts ...option.QueryOption) *gorm.DB {
	db := r.db.WithContext(ctx).Where(query)
	for _, opt := range opts {
		db = opt.Apply(db)
	}
	return db
}
