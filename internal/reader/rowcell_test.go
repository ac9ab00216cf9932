package reader

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvmesh/internal/entity"
	"kvmesh/internal/model"
)

// lazyFakeEntity and eagerFakeEntity stand in for two user row types
// that differ only in their declared laziness, mirroring how
// rowtype.JSONRow hardcodes Lazy() to false for its own reasons.
type lazyFakeEntity struct{ pk, rk string }

func (e lazyFakeEntity) TableName() string          { return "lazy" }
func (e lazyFakeEntity) Lazy() bool                 { return true }
func (e lazyFakeEntity) PartitionKey() string       { return e.pk }
func (e lazyFakeEntity) RowKey() string             { return e.rk }
func (e lazyFakeEntity) TimeStamp() model.Timestamp { return model.ZeroTimestamp }

type eagerFakeEntity struct{ pk, rk string }

func (e eagerFakeEntity) TableName() string          { return "eager" }
func (e eagerFakeEntity) Lazy() bool                 { return false }
func (e eagerFakeEntity) PartitionKey() string       { return e.pk }
func (e eagerFakeEntity) RowKey() string             { return e.rk }
func (e eagerFakeEntity) TimeStamp() model.Timestamp { return model.ZeroTimestamp }

type countingSerializer[T any] struct {
	calls *int64
	build func(pk, rk string) T
}

func (s countingSerializer[T]) SerializeEntity() ([]byte, error) { return nil, nil }

func (s countingSerializer[T]) DeserializeEntity(raw []byte) (T, error) {
	atomic.AddInt64(s.calls, 1)
	row, err := entity.ParseExisting(raw)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.build(row.PartitionKey(), row.RowKey()), nil
}

func TestNewRawCellDefersDeserializationForLazyTypes(t *testing.T) {
	var calls int64
	serializer := countingSerializer[lazyFakeEntity]{calls: &calls, build: func(pk, rk string) lazyFakeEntity {
		return lazyFakeEntity{pk: pk, rk: rk}
	}}
	row := mustCacheRow(t, "pk1", "rk1")

	cell := NewRawCell[lazyFakeEntity](row, serializer)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "lazy type must not deserialize at construction")

	v, err := cell.Value()
	require.NoError(t, err)
	assert.Equal(t, "pk1", v.PartitionKey())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))

	_, err = cell.Value()
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "second call must reuse the cached value")
}

func TestNewRawCellEagerlyDeserializesNonLazyTypes(t *testing.T) {
	var calls int64
	serializer := countingSerializer[eagerFakeEntity]{calls: &calls, build: func(pk, rk string) eagerFakeEntity {
		return eagerFakeEntity{pk: pk, rk: rk}
	}}
	row := mustCacheRow(t, "pk1", "rk1")

	cell := NewRawCell[eagerFakeEntity](row, serializer)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "non-lazy type must deserialize at construction")

	v, err := cell.Value()
	require.NoError(t, err)
	assert.Equal(t, "pk1", v.PartitionKey())
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "Value must reuse the eagerly built value")
}
