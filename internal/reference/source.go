// Package reference loads the lookup tables used to enrich audit records.
package reference

import (
	"context"
	"fmt"
	"strconv"
)

// Views read from the customer database.
const (
	CompanyMapView  = "audit_trail_company_map_vw"
	UserCompanyView = "audit_trail_user_company_vw"
)

// DefaultBatchSize is the number of rows fetched per batch.
const DefaultBatchSize = 10000

// Row is a single table row keyed by column name.
type Row map[string]any

// String returns the column value as a string. NULL and missing columns
// become the empty string.
func (r Row) String(column string) string {
	switch v := r[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// Source fetches every row of a table or view in batches.
type Source interface {
	// FetchTable calls fn once per batch of at most batchSize rows, in
	// table order. An error from fn stops the fetch and is returned.
	FetchTable(ctx context.Context, table string, batchSize int, fn func([]Row) error) error
}

// MemorySource serves tables from memory.
type MemorySource struct {
	Tables map[string][]Row
}

// NewMemorySource returns a MemorySource over the given tables.
func NewMemorySource(tables map[string][]Row) *MemorySource {
	return &MemorySource{Tables: tables}
}

// FetchTable implements Source.
func (s *MemorySource) FetchTable(ctx context.Context, table string, batchSize int, fn func([]Row) error) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	rows := s.Tables[table]
	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(rows))
		if err := fn(rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}
