// Package master implements the server side of a kvmesh node: an
// in-memory table store, a TCP listener speaking internal/wire, and a
// GC loop that retires expired or excess data (SPEC_FULL.md §4,
// "Master-side serving").
package master

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"kvmesh/internal/entity"
	"kvmesh/internal/model"
)

// ErrTableAlreadyExists is returned by CreateTable when the table is
// already present.
var ErrTableAlreadyExists = errors.New("master: table already exists")

// ErrTableNotFound is returned whenever an operation names a table
// the store doesn't have.
var ErrTableNotFound = errors.New("master: table not found")

// RowKeyRef is a bare (partition key, row key) pair, used by
// DeleteRows.
type RowKeyRef struct {
	PartitionKey string
	RowKey       string
}

// Store owns every table a master node serves. Table lookup is
// guarded by Store's own mutex; once a *model.Table is returned,
// structural mutation on it must hold that table's own lock (spec §5)
// — Store takes it internally for every call below.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*tableEntry

	log *zap.Logger
}

type tableEntry struct {
	mu    sync.RWMutex
	table *model.Table
}

// NewStore builds an empty Store.
func NewStore(log *zap.Logger) *Store {
	return &Store{tables: make(map[string]*tableEntry), log: log}
}

// CreateTable registers table with the given attributes. It fails if
// the table already exists.
func (s *Store) CreateTable(name string, attrs model.Attributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return fmt.Errorf("%w: %s", ErrTableAlreadyExists, name)
	}
	s.tables[name] = &tableEntry{table: model.NewTable(name, attrs)}
	return nil
}

// CreateTableIfNotExists registers table unless it is already present.
// Returns the table and whether it was newly created.
func (s *Store) CreateTableIfNotExists(name string, attrs model.Attributes) (*model.Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tables[name]; ok {
		return e.table, false
	}
	t := model.NewTable(name, attrs)
	s.tables[name] = &tableEntry{table: t}
	return t, true
}

func (s *Store) entry(name string) (*tableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return e, nil
}

// Table returns the table named name.
func (s *Store) Table(name string) (*model.Table, error) {
	e, err := s.entry(name)
	if err != nil {
		return nil, err
	}
	return e.table, nil
}

// Tables returns a snapshot of every registered table name.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}

// InsertRow parses raw into a row compiled against now, and inserts
// (or replaces) it into table's partition.
func (s *Store) InsertRow(tableName string, raw []byte, now model.Timestamp) error {
	e, err := s.entry(tableName)
	if err != nil {
		return err
	}
	row, err := entity.ParseAndCompile(raw, now)
	if err != nil {
		return fmt.Errorf("master: insert into %s: %w", tableName, err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table.InsertOrReplaceRow(row, now)
	return nil
}

// BulkInsertRows parses and inserts every row in raws into table,
// grouping them by partition key so each partition sees one logical
// bulk call.
func (s *Store) BulkInsertRows(tableName string, raws [][]byte, now model.Timestamp) (int, error) {
	e, err := s.entry(tableName)
	if err != nil {
		return 0, err
	}
	byPartition := make(map[string][]*model.Row)
	order := make([]string, 0)
	for _, raw := range raws {
		row, err := entity.ParseAndCompile(raw, now)
		if err != nil {
			return 0, fmt.Errorf("master: bulk insert into %s: %w", tableName, err)
		}
		pk := row.PartitionKey()
		if _, seen := byPartition[pk]; !seen {
			order = append(order, pk)
		}
		byPartition[pk] = append(byPartition[pk], row)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pk := range order {
		e.table.BulkInsertOrReplace(pk, byPartition[pk], now)
	}
	return len(raws), nil
}

// CleanAndBulkInsert drops partitionKey's existing partition (if any)
// and replaces it wholesale with rows parsed from raws.
func (s *Store) CleanAndBulkInsert(tableName, partitionKey string, raws [][]byte, now model.Timestamp) (int, error) {
	e, err := s.entry(tableName)
	if err != nil {
		return 0, err
	}
	rows := make([]*model.Row, 0, len(raws))
	for _, raw := range raws {
		row, err := entity.ParseAndCompile(raw, now)
		if err != nil {
			return 0, fmt.Errorf("master: clean-and-bulk-insert into %s: %w", tableName, err)
		}
		rows = append(rows, row)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.table.RemovePartition(partitionKey)
	e.table.BulkInsertOrReplace(partitionKey, rows, now)
	return len(rows), nil
}

// DeleteRow removes one row from a partition.
func (s *Store) DeleteRow(tableName, partitionKey, rowKey string) error {
	e, err := s.entry(tableName)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table.RemoveRow(partitionKey, rowKey, true)
	return nil
}

// DeleteRows removes a batch of (partition, row) pairs in one call.
func (s *Store) DeleteRows(tableName string, refs []RowKeyRef) error {
	e, err := s.entry(tableName)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ref := range refs {
		e.table.RemoveRow(ref.PartitionKey, ref.RowKey, true)
	}
	return nil
}

// GetRow returns the raw bytes of one row, or nil if absent. A
// successful read touches the row's last-read-access cell.
func (s *Store) GetRow(tableName, partitionKey, rowKey string, now model.Timestamp) ([]byte, error) {
	e, err := s.entry(tableName)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	p := e.table.GetPartition(partitionKey)
	e.mu.RUnlock()
	if p == nil {
		return nil, nil
	}
	row := p.Get(rowKey)
	if row == nil {
		return nil, nil
	}
	row.Touch(now)
	return row.Raw(), nil
}

// withTable runs fn against name's table under its exclusive lock, for
// callers (e.g. the GC loop) that need table-level mutation access
// without duplicating lookup/locking boilerplate.
func (s *Store) withTable(name string, fn func(t *model.Table)) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.table)
	return nil
}
