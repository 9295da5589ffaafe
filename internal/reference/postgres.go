package reference

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/lib/pq"

	"github.com/aburke/highgarden/internal/tracing"
)

// DefaultSchema holds the reference views.
const DefaultSchema = "pipelines"

// Credentials locate the customer database.
type Credentials struct {
	Database string
	User     string
	Host     string
	Password string
	Port     string
}

// URL returns a postgres connection URL for c.
func (c Credentials) URL() string {
	port := c.Port
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, port),
		Path:   "/" + c.Database,
	}
	return u.String()
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (db *sql.DB, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "", tracing.DBOperationPing)
	defer func() { endSpan(err) }()

	db, err = sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// PostgresSource reads reference views from PostgreSQL.
type PostgresSource struct {
	db     *sql.DB
	schema string
}

// NewPostgresSource returns a Source over the views in schema.
func NewPostgresSource(db *sql.DB, schema string) *PostgresSource {
	if schema == "" {
		schema = DefaultSchema
	}
	return &PostgresSource{db: db, schema: schema}
}

// FetchTable implements Source by selecting every row of table.
func (s *PostgresSource) FetchTable(ctx context.Context, table string, batchSize int, fn func([]Row) error) (err error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := fmt.Sprintf("SELECT * FROM %s.%s", pq.QuoteIdentifier(s.schema), pq.QuoteIdentifier(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("columns %s: %w", table, err)
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	batch := make([]Row, 0, min(batchSize, 1024))
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]Row, 0, cap(batch))
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
