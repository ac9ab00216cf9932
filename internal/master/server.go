package master

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kvmesh/internal/entity"
	"kvmesh/internal/model"
	"kvmesh/internal/telemetry"
	"kvmesh/internal/wire"
)

// Server accepts reader connections over TCP and speaks
// internal/wire's frame protocol to them: it streams InitTable on
// subscribe and fans out the frames passed to BroadcastUpdateRows and
// BroadcastDeleteRows. Store mutations do not broadcast by themselves;
// GC deletions reach readers through GCLoop's call to
// BroadcastDeleteRows.
type Server struct {
	store    *Store
	counters *telemetry.Counters
	log      *zap.Logger

	pingInterval time.Duration
	compress     bool

	mu   sync.RWMutex
	subs map[string]map[string]*connection // table -> connection id -> connection
}

// NewServer builds a Server fronting store.
func NewServer(store *Store, counters *telemetry.Counters, pingInterval time.Duration, compress bool, log *zap.Logger) *Server {
	return &Server{
		store:        store,
		counters:     counters,
		log:          log,
		pingInterval: pingInterval,
		compress:     compress,
		subs:         make(map[string]map[string]*connection),
	}
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

type connection struct {
	id     string
	table  string
	netw   net.Conn
	mu     sync.Mutex
	closed bool
}

func (c *connection) send(f wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return wire.Encode(c.netw, f)
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn) {
	id := uuid.NewString()
	conn := &connection{id: id, netw: netConn}
	log := s.log.With(zap.String("conn", id), zap.String("remote", netConn.RemoteAddr().String()))

	defer func() {
		_ = netConn.Close()
		s.unsubscribe(conn)
	}()

	for {
		frame, err := wire.Decode(netConn)
		if err != nil {
			log.Debug("connection closed", zap.Error(err))
			return
		}
		if err := s.dispatch(ctx, conn, frame, log); err != nil {
			log.Warn("dispatch failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn *connection, frame wire.Frame, log *zap.Logger) error {
	switch f := frame.(type) {
	case wire.Ping:
		return conn.send(wire.Pong{})
	case wire.Greeting:
		log.Debug("reader greeting", zap.String("name", f.Name))
		return nil
	case wire.GreetingFromNode:
		log.Debug("node greeting", zap.String("location", f.Location), zap.String("node_version", f.NodeVersion))
		return nil
	case wire.Subscribe:
		return s.handleSubscribe(conn, f.Table)
	case wire.SubscribeAsNode:
		return s.handleSubscribe(conn, f.Table)
	case wire.Unsubscribe:
		s.unsubscribeFromTable(conn, f.Table)
		return nil
	case wire.UpdatePartitionsLastReadTime:
		s.handleTouchPartitions(f)
		return conn.send(wire.Confirmation{Version: f.Version, ConfirmationID: f.ConfirmationID})
	case wire.UpdateRowsLastReadTime:
		s.handleTouchRows(f)
		return conn.send(wire.Confirmation{Version: f.Version, ConfirmationID: f.ConfirmationID})
	case wire.UpdatePartitionsExpirationTime:
		s.handleUpdatePartitionsExpiration(f)
		return conn.send(wire.Confirmation{Version: f.Version, ConfirmationID: f.ConfirmationID})
	case wire.UpdateRowsExpirationTime:
		s.handleUpdateRowsExpiration(f)
		return conn.send(wire.Confirmation{Version: f.Version, ConfirmationID: f.ConfirmationID})
	default:
		log.Debug("ignoring unexpected frame from reader", zap.Uint8("packet_id", uint8(frame.PacketID())))
		return nil
	}
}

func (s *Server) handleSubscribe(conn *connection, table string) error {
	e, err := s.store.entry(table)
	if err != nil {
		return conn.send(wire.TableNotFound{Table: table})
	}

	e.mu.RLock()
	snapshot, err := snapshotTable(e.table)
	e.mu.RUnlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn.table = table
	if s.subs[table] == nil {
		s.subs[table] = make(map[string]*connection)
	}
	s.subs[table][conn.id] = conn
	s.mu.Unlock()

	return conn.send(wire.InitTable{Table: table, Data: snapshot})
}

func (s *Server) unsubscribe(conn *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.mu.Lock()
	conn.closed = true
	conn.mu.Unlock()
	if conn.table == "" {
		return
	}
	if set, ok := s.subs[conn.table]; ok {
		delete(set, conn.id)
	}
}

func (s *Server) unsubscribeFromTable(conn *connection, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[table]; ok {
		delete(set, conn.id)
	}
}

func (s *Server) handleTouchPartitions(f wire.UpdatePartitionsLastReadTime) {
	now := model.NewTimestamp(time.Now())
	_ = s.store.withTable(f.Table, func(t *model.Table) {
		for _, pk := range f.PartitionKeys {
			p := t.GetPartition(pk)
			if p == nil {
				continue
			}
			p.TouchWrite(now)
		}
	})
}

func (s *Server) handleTouchRows(f wire.UpdateRowsLastReadTime) {
	t, err := s.store.Table(f.Table)
	if err != nil {
		return
	}
	p := t.GetPartition(f.PartitionKey)
	if p == nil {
		return
	}
	now := model.NewTimestamp(time.Now())
	for _, rk := range f.RowKeys {
		if row := p.Get(rk); row != nil {
			row.Touch(now)
		}
	}
}

func (s *Server) handleUpdatePartitionsExpiration(f wire.UpdatePartitionsExpirationTime) {
	_ = s.store.withTable(f.Table, func(t *model.Table) {
		for _, entry := range f.Entries {
			t.SetPartitionExpiration(entry.PartitionKey, model.Timestamp(entry.Expiration))
		}
	})
}

func (s *Server) handleUpdateRowsExpiration(f wire.UpdateRowsExpirationTime) {
	_ = s.store.withTable(f.Table, func(t *model.Table) {
		p := t.GetPartition(f.PartitionKey)
		if p == nil {
			return
		}
		for _, rk := range f.RowKeys {
			p.UpdateExpirationTime(rk, model.Timestamp(f.Expiration))
		}
	})
}

// BroadcastDeleteRows implements GCLoop's Broadcaster; GCLoop is its
// only caller in this module.
func (s *Server) BroadcastDeleteRows(table string, refs []RowKeyRef) {
	wireRefs := make([]wire.RowKeyRef, 0, len(refs))
	for _, r := range refs {
		wireRefs = append(wireRefs, wire.RowKeyRef{PartitionKey: r.PartitionKey, RowKey: r.RowKey})
	}
	s.broadcast(table, wire.DeleteRows{Table: table, Rows: wireRefs})
}

// BroadcastUpdateRows sends a fresh snapshot of the given rows to
// every reader subscribed to table.
func (s *Server) BroadcastUpdateRows(table string, rows []*model.Row) {
	data, err := serializeRows(rows)
	if err != nil {
		s.log.Warn("serialize rows for broadcast failed", zap.Error(err))
		return
	}
	s.broadcast(table, wire.UpdateRows{Table: table, Data: data})
}

func (s *Server) broadcast(table string, f wire.Frame) {
	s.mu.RLock()
	conns := make([]*connection, 0, len(s.subs[table]))
	for _, c := range s.subs[table] {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	outgoing := f
	if s.compress {
		if compressed, err := wire.MaybeCompress(f); err == nil {
			outgoing = compressed
		}
	}
	for _, c := range conns {
		if err := c.send(outgoing); err != nil {
			s.log.Debug("broadcast send failed", zap.String("conn", c.id), zap.Error(err))
		}
	}
}

func snapshotTable(t *model.Table) ([]byte, error) {
	var rows []*model.Row
	for _, p := range t.Partitions() {
		rows = append(rows, p.Rows()...)
	}
	return serializeRows(rows)
}

func serializeRows(rows []*model.Row) ([]byte, error) {
	out := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, json.RawMessage(entity.Serialize(row)))
	}
	return json.Marshal(out)
}
