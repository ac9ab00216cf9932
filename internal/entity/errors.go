// Package entity implements the JSON position model and row compiler
// (spec §4.1, §4.2): a single-pass, non-reparsing scanner that locates
// the three reserved fields (and the optional fourth) inside a row's
// raw JSON buffer, plus splice-based rewrites that inject a timestamp
// on insert and add/replace/remove the expiration field on serialize.
package entity

import "errors"

// Sentinel parse errors, matching spec §4.1's failure-mode taxonomy.
// These are returned synchronously to the caller and never panic.
var (
	ErrPartitionKeyRequired     = errors.New("entity: PartitionKey field is required")
	ErrRowKeyRequired           = errors.New("entity: RowKey field is required")
	ErrPartitionKeyCanNotBeNull = errors.New("entity: PartitionKey can not be null")
	ErrRowKeyCanNotBeNull       = errors.New("entity: RowKey can not be null")
	ErrPartitionKeyTooLong      = errors.New("entity: PartitionKey is too long (max 255 bytes)")
	ErrNotAString               = errors.New("entity: reserved field value is not a quoted string or null")
	ErrUnterminatedString       = errors.New("entity: unterminated string literal")
	ErrUnbalancedBraces         = errors.New("entity: unbalanced braces")
	ErrNotAnObject              = errors.New("entity: document is not a JSON object")
)

const maxPartitionKeyLen = 255
