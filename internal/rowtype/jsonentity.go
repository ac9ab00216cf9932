package rowtype

import (
	"kvmesh/internal/entity"
	"kvmesh/internal/model"
)

// JSONRow is the degenerate Entity implementation used by generic
// tooling (e.g. the kvmesh-reader CLI) that mirrors a table without
// knowing its row shape ahead of time. It never deserializes beyond
// the reserved fields the position model already extracts, so
// LAZY_DESERIALIZATION is meaningless for it and Lazy reports false.
type JSONRow struct {
	table string
	row   *model.Row
}

func (r JSONRow) TableName() string          { return r.table }
func (r JSONRow) Lazy() bool                 { return false }
func (r JSONRow) PartitionKey() string       { return r.row.PartitionKey() }
func (r JSONRow) RowKey() string             { return r.row.RowKey() }
func (r JSONRow) TimeStamp() model.Timestamp { return r.row.TimeStamp() }
func (r JSONRow) Raw() []byte                { return r.row.Raw() }

// JSONSerializer adapts model.Row to JSONRow without interpreting the
// row body beyond the three reserved fields.
type JSONSerializer struct{ Table string }

// SerializeEntity is unused for JSONRow: the cache always holds the
// canonical raw bytes already, so there is nothing to re-render.
func (s JSONSerializer) SerializeEntity() ([]byte, error) { return nil, nil }

func (s JSONSerializer) DeserializeEntity(raw []byte) (JSONRow, error) {
	row, err := entity.ParseExisting(raw)
	if err != nil {
		return JSONRow{}, err
	}
	return JSONRow{table: s.Table, row: row}, nil
}
