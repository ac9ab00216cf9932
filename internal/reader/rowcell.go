// Package reader implements the client-side mirror of a table: a
// cache kept current by frames from a master connection, and the
// outbound queue that reports read statistics back (spec §4.7, §4.8).
package reader

import (
	"fmt"

	"kvmesh/internal/model"
	"kvmesh/internal/rowtype"
)

// RowCell is either the raw bytes of a row (fast path, no
// deserialization) or an already-deserialized typed value. Lazy types
// land as Raw and are promoted to Deserialized on first typed access;
// non-lazy types are deserialized up front in NewRawCell.
type RowCell[T rowtype.Entity] struct {
	raw        *model.Row
	typed      T
	hasTyped   bool
	serializer rowtype.Serializer[T]
}

// NewRawCell builds a cell for row. T's zero value decides laziness: if
// T.Lazy() is false the row is deserialized immediately and Value never
// touches the serializer again.
func NewRawCell[T rowtype.Entity](row *model.Row, s rowtype.Serializer[T]) *RowCell[T] {
	cell := &RowCell[T]{raw: row, serializer: s}
	var zero T
	if !zero.Lazy() {
		if v, err := s.DeserializeEntity(row.Raw()); err == nil {
			cell.typed = v
			cell.hasTyped = true
		}
	}
	return cell
}

// PartitionKey and RowKey are readable straight from the position view
// without forcing deserialization.
func (c *RowCell[T]) PartitionKey() string { return c.raw.PartitionKey() }
func (c *RowCell[T]) RowKey() string       { return c.raw.RowKey() }

// Raw exposes the row's undeserialized bytes.
func (c *RowCell[T]) Raw() *model.Row { return c.raw }

// Value returns the deserialized value, promoting the cell from Raw
// to Deserialized on first call.
func (c *RowCell[T]) Value() (T, error) {
	if c.hasTyped {
		return c.typed, nil
	}
	v, err := c.serializer.DeserializeEntity(c.raw.Raw())
	if err != nil {
		var zero T
		return zero, fmt.Errorf("reader: deserialize row %s/%s: %w", c.raw.PartitionKey(), c.raw.RowKey(), err)
	}
	c.typed = v
	c.hasTyped = true
	return c.typed, nil
}
