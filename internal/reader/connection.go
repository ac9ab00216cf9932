package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"kvmesh/internal/entity"
	"kvmesh/internal/model"
	"kvmesh/internal/telemetry"
	"kvmesh/internal/wire"
)

// Sink receives the decoded contents of inbound frames; *Cache[T]
// implements it directly.
type Sink interface {
	InitTable(rows []*model.Row)
	InitPartition(partitionKey string, rows []*model.Row)
	UpdateRows(rows []*model.Row)
	DeleteRows(refs []RowKeyRef)
}

// Connection owns one TCP session to a master: it subscribes to a
// table, feeds decoded frames into a Sink, and drains a SyncQueue back
// out over the same socket. On disconnect it reconnects with
// exponential backoff (spec §4.8's "reconnect-safe re-enqueue").
type Connection struct {
	masterAddr     string
	table          string
	location       string
	connectTimeout time.Duration
	pingInterval   time.Duration

	sink  Sink
	queue *SyncQueue

	counters *telemetry.Counters
	log      *zap.Logger
}

// NewConnection builds a Connection that will subscribe to table
// against masterAddr once Run is called.
func NewConnection(masterAddr, table, location string, connectTimeout, pingInterval time.Duration, sink Sink, queue *SyncQueue, counters *telemetry.Counters, log *zap.Logger) *Connection {
	return &Connection{
		masterAddr:     masterAddr,
		table:          table,
		location:       location,
		connectTimeout: connectTimeout,
		pingInterval:   pingInterval,
		sink:           sink,
		queue:          queue,
		counters:       counters,
		log:            log,
	}
}

// Run blocks, maintaining a connection to the master and reconnecting
// with backoff until ctx is cancelled.
func (c *Connection) Run(ctx context.Context, minBackoff, maxBackoff time.Duration) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = minBackoff
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0 // retry forever until ctx is cancelled

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.Warn("connection to master failed", zap.String("master", c.masterAddr), zap.Error(err))
			c.queue.Requeue()
			c.counters.RecordReconnect(ctx)
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
	}
}

func (c *Connection) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.connectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.masterAddr)
	if err != nil {
		return fmt.Errorf("reader: dial %s: %w", c.masterAddr, err)
	}
	defer netConn.Close()

	if err := wire.Encode(netConn, wire.Greeting{Name: c.location}); err != nil {
		return fmt.Errorf("reader: send greeting: %w", err)
	}
	if err := wire.Encode(netConn, wire.Subscribe{Table: c.table}); err != nil {
		return fmt.Errorf("reader: send subscribe: %w", err)
	}

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- c.readLoop(netConn) }()

	writeErrCh := make(chan error, 1)
	go func() { writeErrCh <- c.writeLoop(ctx, netConn) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErrCh:
		return err
	case err := <-writeErrCh:
		return err
	}
}

func (c *Connection) readLoop(netConn net.Conn) error {
	for {
		frame, err := wire.Decode(netConn)
		if err != nil {
			return err
		}
		if err := c.handleFrame(frame); err != nil {
			c.log.Warn("handling inbound frame failed", zap.Error(err))
		}
	}
}

func (c *Connection) handleFrame(frame wire.Frame) error {
	switch f := frame.(type) {
	case wire.Pong:
		return nil
	case wire.InitTable:
		rows, err := decodeRows(f.Data)
		if err != nil {
			return err
		}
		c.sink.InitTable(rows)
	case wire.InitPartition:
		rows, err := decodeRows(f.Data)
		if err != nil {
			return err
		}
		c.sink.InitPartition(f.PartitionKey, rows)
	case wire.UpdateRows:
		rows, err := decodeRows(f.Data)
		if err != nil {
			return err
		}
		c.sink.UpdateRows(rows)
	case wire.DeleteRows:
		refs := make([]RowKeyRef, 0, len(f.Rows))
		for _, r := range f.Rows {
			refs = append(refs, RowKeyRef{PartitionKey: r.PartitionKey, RowKey: r.RowKey})
		}
		c.sink.DeleteRows(refs)
	case wire.TableNotFound:
		return fmt.Errorf("reader: master reports table %q not found", f.Table)
	case wire.Error:
		return fmt.Errorf("reader: master error: %s", f.Message)
	case wire.Confirmation:
		if !c.queue.Confirm(f.ConfirmationID) {
			c.log.Debug("discarding confirmation with unexpected id", zap.Int64("id", f.ConfirmationID))
		}
	default:
		c.log.Debug("ignoring frame", zap.Uint8("packet_id", uint8(frame.PacketID())))
	}
	return nil
}

func (c *Connection) writeLoop(ctx context.Context, netConn net.Conn) error {
	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()
	drainTicker := time.NewTicker(50 * time.Millisecond)
	defer drainTicker.Stop()

	lastDepth := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTicker.C:
			if err := wire.Encode(netConn, wire.Ping{}); err != nil {
				return fmt.Errorf("reader: ping: %w", err)
			}
		case <-drainTicker.C:
			if frame := c.queue.Next(); frame != nil {
				if err := wire.Encode(netConn, frame); err != nil {
					return fmt.Errorf("reader: send sync frame: %w", err)
				}
			}
			if depth := c.queue.Len(); depth != lastDepth {
				c.counters.AdjustQueueDepth(ctx, depth-lastDepth)
				lastDepth = depth
			}
		}
	}
}

func decodeRows(data []byte) ([]*model.Row, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("reader: decode row snapshot: %w", err)
	}
	rows := make([]*model.Row, 0, len(raws))
	for _, raw := range raws {
		row, err := entity.ParseExisting(raw)
		if err != nil {
			return nil, fmt.Errorf("reader: parse row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
