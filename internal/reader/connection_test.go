package reader

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvmesh/internal/model"
	"kvmesh/internal/wire"
)

type recordingSink struct {
	mu         sync.Mutex
	initTable  []*model.Row
	initPart   []*model.Row
	initPartPK string
	updated    []*model.Row
	deleted    []RowKeyRef
}

func (s *recordingSink) InitTable(rows []*model.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initTable = rows
}

func (s *recordingSink) InitPartition(partitionKey string, rows []*model.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initPartPK = partitionKey
	s.initPart = rows
}

func (s *recordingSink) UpdateRows(rows []*model.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, rows...)
}

func (s *recordingSink) DeleteRows(refs []RowKeyRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, refs...)
}

func rowsJSON(t *testing.T, pairs ...[2]string) []byte {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(pairs))
	for _, p := range pairs {
		raws = append(raws, json.RawMessage(`{"PartitionKey":"`+p[0]+`","RowKey":"`+p[1]+`"}`))
	}
	data, err := json.Marshal(raws)
	require.NoError(t, err)
	return data
}

func newTestConnection(sink Sink, queue *SyncQueue) *Connection {
	return NewConnection("unused", "orders", "loc1", time.Second, time.Second, sink, queue, nil, zap.NewNop())
}

func TestDecodeRowsValid(t *testing.T) {
	rows, err := decodeRows(rowsJSON(t, [2]string{"pk1", "rk1"}, [2]string{"pk1", "rk2"}))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pk1", rows[0].PartitionKey())
	assert.Equal(t, "rk1", rows[0].RowKey())
}

func TestDecodeRowsInvalidJSON(t *testing.T) {
	_, err := decodeRows([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeRowsInvalidRow(t *testing.T) {
	_, err := decodeRows([]byte(`[{"PartitionKey":"pk1"}]`))
	assert.Error(t, err)
}

func TestHandleFrameInitTable(t *testing.T) {
	sink := &recordingSink{}
	c := newTestConnection(sink, NewSyncQueue())

	err := c.handleFrame(wire.InitTable{Table: "orders", Data: rowsJSON(t, [2]string{"pk1", "rk1"})})
	require.NoError(t, err)
	require.Len(t, sink.initTable, 1)
	assert.Equal(t, "pk1", sink.initTable[0].PartitionKey())
}

func TestHandleFrameInitPartition(t *testing.T) {
	sink := &recordingSink{}
	c := newTestConnection(sink, NewSyncQueue())

	err := c.handleFrame(wire.InitPartition{Table: "orders", PartitionKey: "pk1", Data: rowsJSON(t, [2]string{"pk1", "rk1"})})
	require.NoError(t, err)
	assert.Equal(t, "pk1", sink.initPartPK)
	require.Len(t, sink.initPart, 1)
}

func TestHandleFrameUpdateRows(t *testing.T) {
	sink := &recordingSink{}
	c := newTestConnection(sink, NewSyncQueue())

	err := c.handleFrame(wire.UpdateRows{Table: "orders", Data: rowsJSON(t, [2]string{"pk1", "rk1"})})
	require.NoError(t, err)
	require.Len(t, sink.updated, 1)
}

func TestHandleFrameDeleteRows(t *testing.T) {
	sink := &recordingSink{}
	c := newTestConnection(sink, NewSyncQueue())

	err := c.handleFrame(wire.DeleteRows{Table: "orders", Rows: []wire.RowKeyRef{{PartitionKey: "pk1", RowKey: "rk1"}}})
	require.NoError(t, err)
	require.Len(t, sink.deleted, 1)
	assert.Equal(t, RowKeyRef{PartitionKey: "pk1", RowKey: "rk1"}, sink.deleted[0])
}

func TestHandleFrameTableNotFoundErrors(t *testing.T) {
	c := newTestConnection(&recordingSink{}, NewSyncQueue())
	err := c.handleFrame(wire.TableNotFound{Table: "orders"})
	assert.Error(t, err)
}

func TestHandleFrameErrorFrameErrors(t *testing.T) {
	c := newTestConnection(&recordingSink{}, NewSyncQueue())
	err := c.handleFrame(wire.Error{Message: "boom"})
	assert.Error(t, err)
}

func TestHandleFramePongIsIgnored(t *testing.T) {
	c := newTestConnection(&recordingSink{}, NewSyncQueue())
	err := c.handleFrame(wire.Pong{})
	assert.NoError(t, err)
}

func TestHandleFrameConfirmationAdvancesQueue(t *testing.T) {
	queue := NewSyncQueue()
	queue.TouchPartitions("orders", []string{"pk1"})
	frame := queue.Next()
	upd, ok := frame.(wire.UpdatePartitionsLastReadTime)
	require.True(t, ok)

	c := newTestConnection(&recordingSink{}, queue)
	err := c.handleFrame(wire.Confirmation{ConfirmationID: upd.ConfirmationID})
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Len())
}

// fakeMaster accepts exactly one connection, reads the handshake
// (Greeting + Subscribe), then lets the test script the rest of the
// exchange.
type fakeMaster struct {
	ln   net.Listener
	conn net.Conn
}

func newFakeMaster(t *testing.T) *fakeMaster {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return &fakeMaster{ln: ln}
}

func (f *fakeMaster) accept(t *testing.T) net.Conn {
	t.Helper()
	conn, err := f.ln.Accept()
	require.NoError(t, err)
	f.conn = conn

	greeting, err := wire.Decode(conn)
	require.NoError(t, err)
	_, ok := greeting.(wire.Greeting)
	require.True(t, ok)

	sub, err := wire.Decode(conn)
	require.NoError(t, err)
	subFrame, ok := sub.(wire.Subscribe)
	require.True(t, ok)
	assert.Equal(t, "orders", subFrame.Table)

	return conn
}

func TestRunOnceDeliversInitTableThenReturnsOnClose(t *testing.T) {
	master := newFakeMaster(t)
	defer master.ln.Close()

	sink := &recordingSink{}
	queue := NewSyncQueue()
	c := NewConnection(master.ln.Addr().String(), "orders", "loc1", time.Second, time.Hour, sink, queue, nil, zap.NewNop())

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn := master.accept(t)
		require.NoError(t, wire.Encode(conn, wire.InitTable{Table: "orders", Data: rowsJSON(t, [2]string{"pk1", "rk1"})}))
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	}()

	err := c.runOnce(t.Context())
	assert.Error(t, err)

	<-serverDone
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.initTable, 1)
	assert.Equal(t, "pk1", sink.initTable[0].PartitionKey())
}
