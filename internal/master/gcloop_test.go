package master

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvmesh/internal/model"
)

type recordingBroadcaster struct {
	table string
	refs  []RowKeyRef
	calls int
}

func (b *recordingBroadcaster) BroadcastDeleteRows(table string, refs []RowKeyRef) {
	b.table = table
	b.refs = append(b.refs, refs...)
	b.calls++
}

func newGCLoop(store *Store, broadcaster Broadcaster) *GCLoop {
	return NewGCLoop(store, broadcaster, time.Second, nil, zap.NewNop())
}

func TestSweepTableDropsExpiredRows(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.CreateTable("orders", model.Attributes{}))
	base := time.Now()
	early := model.NewTimestamp(base)
	require.NoError(t, s.InsertRow("orders", rawRow("pk1", "rk1"), early))

	tbl, err := s.Table("orders")
	require.NoError(t, err)
	tbl.GetPartition("pk1").UpdateExpirationTime("rk1", model.NewTimestamp(base.Add(time.Second)))

	broadcaster := &recordingBroadcaster{}
	g := newGCLoop(s, broadcaster)

	now := model.NewTimestamp(base.Add(time.Hour))
	err = g.sweepTable(context.Background(), "orders", now)
	require.NoError(t, err)

	raw, err := s.GetRow("orders", "pk1", "rk1", now)
	require.NoError(t, err)
	assert.Nil(t, raw)

	assert.Equal(t, 1, broadcaster.calls)
	assert.Equal(t, "orders", broadcaster.table)
	assert.Contains(t, broadcaster.refs, RowKeyRef{PartitionKey: "pk1", RowKey: "rk1"})
}

func TestSweepTableDropsExcessPartitions(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.CreateTable("orders", model.Attributes{MaxPartitionsAmount: 1}))
	base := time.Now()

	require.NoError(t, s.InsertRow("orders", rawRow("old", "rk1"), model.NewTimestamp(base)))
	require.NoError(t, s.InsertRow("orders", rawRow("new", "rk1"), model.NewTimestamp(base.Add(time.Minute))))

	broadcaster := &recordingBroadcaster{}
	g := newGCLoop(s, broadcaster)

	err := g.sweepTable(context.Background(), "orders", model.NewTimestamp(base.Add(2*time.Minute)))
	require.NoError(t, err)

	tbl, err := s.Table("orders")
	require.NoError(t, err)
	assert.Nil(t, tbl.GetPartition("old"))
	assert.NotNil(t, tbl.GetPartition("new"))
	assert.Equal(t, 1, broadcaster.calls)
}

func TestSweepTableDropsExpiredPartitions(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.CreateTable("orders", model.Attributes{}))
	base := time.Now()
	require.NoError(t, s.InsertRow("orders", rawRow("pk1", "rk1"), model.NewTimestamp(base)))

	tbl, err := s.Table("orders")
	require.NoError(t, err)
	tbl.SetPartitionExpiration("pk1", model.NewTimestamp(base.Add(time.Second)))

	broadcaster := &recordingBroadcaster{}
	g := newGCLoop(s, broadcaster)

	err = g.sweepTable(context.Background(), "orders", model.NewTimestamp(base.Add(time.Hour)))
	require.NoError(t, err)

	assert.Nil(t, tbl.GetPartition("pk1"))
	assert.Equal(t, 1, broadcaster.calls)
}

func TestSweepTableNoOpOnEmptyPlan(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.CreateTable("orders", model.Attributes{}))
	require.NoError(t, s.InsertRow("orders", rawRow("pk1", "rk1"), model.NewTimestamp(time.Now())))

	broadcaster := &recordingBroadcaster{}
	g := newGCLoop(s, broadcaster)

	err := g.sweepTable(context.Background(), "orders", model.NewTimestamp(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 0, broadcaster.calls)
}

func TestSweepTableUnknownTable(t *testing.T) {
	s := newTestStore()
	g := newGCLoop(s, &recordingBroadcaster{})

	err := g.sweepTable(context.Background(), "missing", model.NewTimestamp(time.Now()))
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestSweepOnceSweepsEveryTable(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.CreateTable("orders", model.Attributes{MaxPartitionsAmount: 1}))
	require.NoError(t, s.CreateTable("users", model.Attributes{MaxPartitionsAmount: 1}))
	base := time.Now()
	require.NoError(t, s.InsertRow("orders", rawRow("old", "rk1"), model.NewTimestamp(base)))
	require.NoError(t, s.InsertRow("orders", rawRow("new", "rk1"), model.NewTimestamp(base.Add(time.Minute))))
	require.NoError(t, s.InsertRow("users", rawRow("old", "rk1"), model.NewTimestamp(base)))
	require.NoError(t, s.InsertRow("users", rawRow("new", "rk1"), model.NewTimestamp(base.Add(time.Minute))))

	broadcaster := &recordingBroadcaster{}
	g := newGCLoop(s, broadcaster)
	g.sweepOnce(context.Background())

	ordersTbl, err := s.Table("orders")
	require.NoError(t, err)
	usersTbl, err := s.Table("users")
	require.NoError(t, err)
	assert.Nil(t, ordersTbl.GetPartition("old"))
	assert.Nil(t, usersTbl.GetPartition("old"))
	assert.Equal(t, 2, broadcaster.calls)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestStore()
	g := NewGCLoop(s, nil, 5*time.Millisecond, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
