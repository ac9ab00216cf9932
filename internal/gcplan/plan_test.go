package gcplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvmesh/internal/entity"
	"kvmesh/internal/model"
)

func mustRow(t *testing.T, pk, rk string, now model.Timestamp) *model.Row {
	t.Helper()
	raw := []byte(`{"PartitionKey":"` + pk + `","RowKey":"` + rk + `"}`)
	row, err := entity.ParseAndCompile(raw, now)
	require.NoError(t, err)
	return row
}

func TestPlanEmptyTableYieldsEmptyPlan(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{})
	plan := Plan(tbl, model.Timestamp(1000))
	assert.True(t, plan.IsEmpty())
}

func TestPlanDropsExcessPartitionsByLastWrite(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{MaxPartitionsAmount: 1})
	tbl.InsertOrReplaceRow(mustRow(t, "older", "rk", model.Timestamp(1)), model.Timestamp(1))
	tbl.InsertOrReplaceRow(mustRow(t, "newer", "rk", model.Timestamp(2)), model.Timestamp(2))

	plan := Plan(tbl, model.Timestamp(2))
	assert.Equal(t, []string{"older"}, plan.Partitions())
	assert.False(t, plan.HasPartition("newer"))
}

func TestPlanDropsPartitionsPastExplicitExpiration(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{})
	tbl.InsertOrReplaceRow(mustRow(t, "pk1", "rk", model.Timestamp(1)), model.Timestamp(1))
	tbl.SetPartitionExpiration("pk1", model.Timestamp(500))

	assert.True(t, Plan(tbl, model.Timestamp(400)).IsEmpty())

	plan := Plan(tbl, model.Timestamp(500))
	assert.Equal(t, []string{"pk1"}, plan.Partitions())
}

func TestPlanDropsExpiredRowsWithinSurvivingPartitions(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{})
	row := mustRow(t, "pk1", "expired", model.Timestamp(1))
	row.UpdateExpires(model.Timestamp(100))
	tbl.InsertOrReplaceRow(row, model.Timestamp(1))
	tbl.InsertOrReplaceRow(mustRow(t, "pk1", "fresh", model.Timestamp(1)), model.Timestamp(1))

	plan := Plan(tbl, model.Timestamp(100))
	assert.False(t, plan.HasPartition("pk1"))
	assert.Equal(t, []string{"expired"}, plan.Rows("pk1"))
}

func TestPlanDropsExcessRowsByLastReadAccess(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{MaxRowsPerPartitionAmount: 1})
	older := mustRow(t, "pk1", "older", model.Timestamp(1))
	newer := mustRow(t, "pk1", "newer", model.Timestamp(2))
	tbl.InsertOrReplaceRow(older, model.Timestamp(1))
	tbl.InsertOrReplaceRow(newer, model.Timestamp(2))

	plan := Plan(tbl, model.Timestamp(2))
	assert.Equal(t, []string{"older"}, plan.Rows("pk1"))
}

func TestPlanWholePartitionDropSubsumesItsRowDrops(t *testing.T) {
	tbl := model.NewTable("t1", model.Attributes{MaxPartitionsAmount: 1})
	row := mustRow(t, "older", "rk", model.Timestamp(1))
	row.UpdateExpires(model.Timestamp(1))
	tbl.InsertOrReplaceRow(row, model.Timestamp(1))
	tbl.InsertOrReplaceRow(mustRow(t, "newer", "rk", model.Timestamp(2)), model.Timestamp(2))

	plan := Plan(tbl, model.Timestamp(2))
	assert.True(t, plan.HasPartition("older"))
	assert.Empty(t, plan.Rows("older"), "a whole-partition drop must not also list the partition's rows")
}
