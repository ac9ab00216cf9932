package rowtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializerDeserializeEntity(t *testing.T) {
	s := JSONSerializer{Table: "orders"}
	raw := []byte(`{"PartitionKey":"pk1","RowKey":"rk1","TimeStamp":"2024-03-05T12:30:45"}`)

	row, err := s.DeserializeEntity(raw)
	require.NoError(t, err)
	assert.Equal(t, "orders", row.TableName())
	assert.Equal(t, "pk1", row.PartitionKey())
	assert.Equal(t, "rk1", row.RowKey())
	assert.False(t, row.Lazy())
	assert.Equal(t, raw, row.Raw())
}

func TestJSONSerializerDeserializeEntityRejectsInvalidRow(t *testing.T) {
	s := JSONSerializer{Table: "orders"}
	_, err := s.DeserializeEntity([]byte(`{"RowKey":"rk1"}`))
	assert.Error(t, err)
}

func TestJSONSerializerSerializeEntityIsANoop(t *testing.T) {
	s := JSONSerializer{Table: "orders"}
	data, err := s.SerializeEntity()
	require.NoError(t, err)
	assert.Nil(t, data)
}
