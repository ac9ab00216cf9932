// Package httpwriter is the collaborator surface a master's HTTP
// façade is accessed through (spec §4.10). Only the request/response
// schema and error taxonomy are in scope; URL building and retry
// policy are an implementation the core depends on only through the
// Writer interface.
package httpwriter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// SyncPeriod is the reader's requested statistics-flush cadence.
type SyncPeriod string

const (
	SyncImmediate SyncPeriod = "i"
	Sync1s        SyncPeriod = "1"
	Sync5s        SyncPeriod = "5"
	Sync15s       SyncPeriod = "15"
	Sync30s       SyncPeriod = "30"
	Sync60s       SyncPeriod = "60"
	SyncAsap      SyncPeriod = "a"
)

// CreateTableOptions carries the optional query params accepted by
// Tables/Create and Tables/CreateIfNotExists.
type CreateTableOptions struct {
	Persist                   bool
	MaxPartitionsAmount       int
	MaxRowsPerPartitionAmount int
}

// RowRef identifies one row for deletion.
type RowRef struct {
	PartitionKey string
	RowKey       string
}

// Writer is the façade a reader or application process uses to write
// through to a master. Implementations must map 404 to (nil, nil) and
// treat a table-scoped 409 the same as a 404 per spec §4.10.
type Writer interface {
	CreateTable(ctx context.Context, table string, opts CreateTableOptions) error
	CreateTableIfNotExists(ctx context.Context, table string, opts CreateTableOptions) error
	Insert(ctx context.Context, table string, row json.RawMessage) error
	InsertOrReplace(ctx context.Context, table string, row json.RawMessage) error
	BulkInsertOrReplace(ctx context.Context, table string, rows []json.RawMessage) error
	CleanAndBulkInsert(ctx context.Context, table, partitionKey string, rows []json.RawMessage) error
	GetRow(ctx context.Context, table, partitionKey, rowKey string) (json.RawMessage, error)
	DeleteRow(ctx context.Context, table, partitionKey, rowKey string) error
	DeleteRows(ctx context.Context, table string, refs []RowRef) error
}

// Client is a Writer backed by a retrying HTTP client, matching the
// base-URL-plus-path-segment scheme spec'd in §4.10.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient builds a Client against baseURL (e.g. "http://master:5123").
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: rc}
}

func (c *Client) CreateTable(ctx context.Context, table string, opts CreateTableOptions) error {
	return c.createTable(ctx, "Tables/Create", table, opts)
}

func (c *Client) CreateTableIfNotExists(ctx context.Context, table string, opts CreateTableOptions) error {
	return c.createTable(ctx, "Tables/CreateIfNotExists", table, opts)
}

func (c *Client) createTable(ctx context.Context, path, table string, opts CreateTableOptions) error {
	q := url.Values{"tableName": {table}}
	if opts.Persist {
		q.Set("persist", "true")
	}
	if opts.MaxPartitionsAmount > 0 {
		q.Set("maxPartitionsAmount", strconv.Itoa(opts.MaxPartitionsAmount))
	}
	if opts.MaxRowsPerPartitionAmount > 0 {
		q.Set("maxRowsPerPartitionAmount", strconv.Itoa(opts.MaxRowsPerPartitionAmount))
	}
	_, err := c.do(ctx, http.MethodPost, path, q, nil)
	return err
}

func (c *Client) Insert(ctx context.Context, table string, row json.RawMessage) error {
	q := url.Values{"tableName": {table}}
	_, err := c.do(ctx, http.MethodPost, "Row/Insert", q, row)
	return err
}

func (c *Client) InsertOrReplace(ctx context.Context, table string, row json.RawMessage) error {
	q := url.Values{"tableName": {table}}
	_, err := c.do(ctx, http.MethodPost, "Row/InsertOrReplace", q, row)
	return err
}

func (c *Client) BulkInsertOrReplace(ctx context.Context, table string, rows []json.RawMessage) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("httpwriter: marshal bulk rows: %w", err)
	}
	q := url.Values{"tableName": {table}}
	_, err = c.do(ctx, http.MethodPost, "Bulk/InsertOrReplace", q, body)
	return err
}

func (c *Client) CleanAndBulkInsert(ctx context.Context, table, partitionKey string, rows []json.RawMessage) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("httpwriter: marshal bulk rows: %w", err)
	}
	q := url.Values{"tableName": {table}, "partitionKey": {partitionKey}}
	_, err = c.do(ctx, http.MethodPost, "Bulk/CleanAndBulkInsert", q, body)
	return err
}

func (c *Client) GetRow(ctx context.Context, table, partitionKey, rowKey string) (json.RawMessage, error) {
	q := url.Values{"tableName": {table}, "partitionKey": {partitionKey}, "rowKey": {rowKey}}
	body, err := c.do(ctx, http.MethodGet, "Row", q, nil)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}

func (c *Client) DeleteRow(ctx context.Context, table, partitionKey, rowKey string) error {
	q := url.Values{"tableName": {table}, "partitionKey": {partitionKey}, "rowKey": {rowKey}}
	_, err := c.do(ctx, http.MethodDelete, "Row", q, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (c *Client) DeleteRows(ctx context.Context, table string, refs []RowRef) error {
	q := url.Values{"tableName": {table}}
	for _, ref := range refs {
		q.Add("partitionKey", ref.PartitionKey)
		q.Add("rowKey", ref.RowKey)
	}
	_, err := c.do(ctx, http.MethodDelete, "Rows", q, nil)
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := fmt.Sprintf("%s/%s?%s", c.baseURL, path, query.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, method, fullURL, bodyReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpwriter: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpwriter: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func bodyReader(body []byte) *bytes.Reader {
	if body == nil {
		return bytes.NewReader(nil)
	}
	return bytes.NewReader(body)
}

func decodeResponse(resp *http.Response) ([]byte, error) {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		var apiErr APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return nil, fmt.Errorf("httpwriter: decode error body: %w", err)
		}
		apiErr.StatusCode = resp.StatusCode
		return nil, &apiErr
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, fmt.Errorf("httpwriter: read response body: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("httpwriter: unexpected status %d", resp.StatusCode)
	}
}
