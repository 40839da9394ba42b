// Package option composes gorm query modifiers, so lookup call sites can
// state their filters declaratively instead of chaining builder calls.
package option

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// QueryOption tweaks a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// Operator is a SQL comparison operator for filter conditions.
type Operator string

const (
	EQ  Operator = "="
	NE  Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

// Condition describes a single field comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// WithLimit bounds the scan. Non-positive limits are ignored.
func WithLimit(limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// WithOrder applies a raw ORDER BY clause. The clause must come from code,
// never from user input.
func WithOrder(order string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if order == "" {
			return db
		}
		return db.Order(order)
	})
}

// WithWhere applies a raw WHERE condition with placeholder args.
func WithWhere(query any, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

// ApplyOperator adds a comparison condition. Fields are expected to come
// from code, not user input. A missing operator compares for equality.
func ApplyOperator(cond Condition) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		if cond.Operator == IN {
			return db.Where(fmt.Sprintf("%s IN ?", field), cond.Value)
		}
		op := cond.Operator
		if op == "" {
			op = EQ
		}
		return db.Where(fmt.Sprintf("%s %s ?", field, op), cond.Value)
	})
}
