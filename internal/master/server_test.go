package master

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kvmesh/internal/model"
	"kvmesh/internal/wire"
)

func newTestServer(store *Store) *Server {
	return NewServer(store, nil, time.Minute, false, zap.NewNop())
}

func pipeConn(t *testing.T, s *Server) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go s.handleConn(context.Background(), server)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func readFrame(t *testing.T, conn net.Conn) wire.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	f, err := wire.Decode(conn)
	require.NoError(t, err)
	return f
}

func TestHandleConnRespondsToPing(t *testing.T) {
	s := newTestServer(newTestStore())
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Ping{}))
	frame := readFrame(t, conn)
	assert.IsType(t, wire.Pong{}, frame)
}

func TestHandleConnGreetingIsAcknowledgedSilently(t *testing.T) {
	s := newTestServer(newTestStore())
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Greeting{Name: "reader-1"}))
	// A plain reader greeting draws no reply; the subsequent Subscribe
	// still works on the same connection.
	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "missing"}))
	frame := readFrame(t, conn)
	assert.IsType(t, wire.TableNotFound{}, frame)
}

func TestHandleConnSubscribeUnknownTableSendsTableNotFound(t *testing.T) {
	s := newTestServer(newTestStore())
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "missing"}))
	frame := readFrame(t, conn)
	tnf, ok := frame.(wire.TableNotFound)
	require.True(t, ok)
	assert.Equal(t, "missing", tnf.Table)
}

func TestHandleConnSubscribeSendsInitTableSnapshot(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))
	require.NoError(t, store.InsertRow("orders", rawRow("pk1", "rk1"), model.NewTimestamp(time.Now())))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "orders"}))
	frame := readFrame(t, conn)
	init, ok := frame.(wire.InitTable)
	require.True(t, ok)
	assert.Equal(t, "orders", init.Table)
	assert.Contains(t, string(init.Data), "pk1")
}

func TestBroadcastUpdateRowsDeliversToSubscriber(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))
	now := model.NewTimestamp(time.Now())
	require.NoError(t, store.InsertRow("orders", rawRow("pk1", "rk1"), now))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "orders"}))
	_ = readFrame(t, conn) // InitTable

	tbl, err := store.Table("orders")
	require.NoError(t, err)
	rows := tbl.GetPartition("pk1").Rows()

	s.BroadcastUpdateRows("orders", rows)

	frame := readFrame(t, conn)
	upd, ok := frame.(wire.UpdateRows)
	require.True(t, ok)
	assert.Equal(t, "orders", upd.Table)
	assert.Contains(t, string(upd.Data), "pk1")
}

func TestBroadcastDeleteRowsDeliversToSubscriber(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "orders"}))
	_ = readFrame(t, conn) // InitTable

	s.BroadcastDeleteRows("orders", []RowKeyRef{{PartitionKey: "pk1", RowKey: "rk1"}})

	frame := readFrame(t, conn)
	del, ok := frame.(wire.DeleteRows)
	require.True(t, ok)
	assert.Equal(t, "orders", del.Table)
	require.Len(t, del.Rows, 1)
	assert.Equal(t, wire.RowKeyRef{PartitionKey: "pk1", RowKey: "rk1"}, del.Rows[0])
}

func TestUnsubscribeStopsBroadcast(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.Subscribe{Table: "orders"}))
	_ = readFrame(t, conn) // InitTable

	require.NoError(t, wire.Encode(conn, wire.Unsubscribe{Table: "orders"}))

	s.BroadcastDeleteRows("orders", []RowKeyRef{{PartitionKey: "pk1", RowKey: "rk1"}})

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := wire.Decode(conn)
	assert.Error(t, err)
}

func TestDispatchTouchPartitionsUpdatesLastWriteMomentAndConfirms(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))
	require.NoError(t, store.InsertRow("orders", rawRow("pk1", "rk1"), model.NewTimestamp(time.Now())))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	require.NoError(t, wire.Encode(conn, wire.UpdatePartitionsLastReadTime{
		Version:        0,
		ConfirmationID: 42,
		Table:          "orders",
		PartitionKeys:  []string{"pk1"},
	}))

	frame := readFrame(t, conn)
	conf, ok := frame.(wire.Confirmation)
	require.True(t, ok)
	assert.Equal(t, int64(42), conf.ConfirmationID)

	tbl, err := store.Table("orders")
	require.NoError(t, err)
	assert.False(t, tbl.GetPartition("pk1").LastWriteMoment().IsZero())
}

func TestDispatchUpdateRowsExpirationAppliesToRow(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.CreateTable("orders", model.Attributes{}))
	require.NoError(t, store.InsertRow("orders", rawRow("pk1", "rk1"), model.NewTimestamp(time.Now())))

	s := newTestServer(store)
	conn := pipeConn(t, s)

	newExpiry := model.NewTimestamp(time.Now().Add(time.Hour))
	require.NoError(t, wire.Encode(conn, wire.UpdateRowsExpirationTime{
		ConfirmationID: 7,
		Table:          "orders",
		PartitionKey:   "pk1",
		RowKeys:        []string{"rk1"},
		Expiration:     int64(newExpiry),
	}))
	frame := readFrame(t, conn)
	conf, ok := frame.(wire.Confirmation)
	require.True(t, ok)
	assert.Equal(t, int64(7), conf.ConfirmationID)

	tbl, err := store.Table("orders")
	require.NoError(t, err)
	row := tbl.GetPartition("pk1").Get("rk1")
	require.NotNil(t, row)
	assert.Equal(t, newExpiry, row.Expires())
}

func TestServeAcceptsTCPConnectionsAndStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(newTestStore())
	ctx, cancel := context.WithCancel(context.Background())

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.Encode(conn, wire.Ping{}))
	frame := readFrame(t, conn)
	assert.IsType(t, wire.Pong{}, frame)

	cancel()
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
