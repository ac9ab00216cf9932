package rowtype

import "fmt"

// EnumVariant is one arm of an EnumEntity dispatcher: Matches decides
// whether a given (partition key, row key) pair belongs to this
// variant, and Deserialize parses the row's raw bytes into it.
//
// The original design generates this dispatch with a derive macro
// (original_source/my-no-sql-macros/src/enum_of_my_no_sql_entity); the
// macro/codegen layer itself is out of scope (spec §1), so callers
// build the variant list by hand.
type EnumVariant[T any] struct {
	Name       string
	Matches    func(partitionKey, rowKey string) bool
	Deserialize func(raw []byte) (T, error)
}

// EnumEntity aggregates multiple row shapes under one table name and
// dispatches deserialization by matching (partition_key, row_key)
// against each variant's declared matcher, in order.
type EnumEntity[T any] struct {
	table    string
	variants []EnumVariant[T]
}

// NewEnumEntity builds a dispatcher for table backed by variants,
// tried in the order given.
func NewEnumEntity[T any](table string, variants ...EnumVariant[T]) *EnumEntity[T] {
	return &EnumEntity[T]{table: table, variants: variants}
}

// TableName returns the table all variants share.
func (e *EnumEntity[T]) TableName() string { return e.table }

// Deserialize finds the first variant whose Matches accepts
// (partitionKey, rowKey) and deserializes raw through it. It returns
// an error naming the unmatched (partitionKey, rowKey) pair if no
// variant claims it.
func (e *EnumEntity[T]) Deserialize(partitionKey, rowKey string, raw []byte) (T, error) {
	for _, v := range e.variants {
		if v.Matches(partitionKey, rowKey) {
			return v.Deserialize(raw)
		}
	}
	var zero T
	return zero, fmt.Errorf("rowtype: no enum variant of table %q matches partition key %q, row key %q", e.table, partitionKey, rowKey)
}
