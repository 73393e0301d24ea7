// Package clickhouse persists records in ClickHouse MergeTree tables.
package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ericogr/luxmeter/pkg/config"
	"github.com/ericogr/luxmeter/pkg/logger"
	"github.com/ericogr/luxmeter/pkg/output"
	"github.com/google/uuid"
)

const (
	RawTableSQL = `
CREATE TABLE IF NOT EXISTS raw_samples (
    id UUID,
    timestamp DateTime64(9),
    value Float64
) ENGINE = MergeTree()
ORDER BY (timestamp, id)
`

	DerivedTableSQL = `
CREATE TABLE IF NOT EXISTS derived_results (
    id UUID,
    timestamp DateTime64(9),
    value Float64,
    trace Array(Float64)
) ENGINE = MergeTree()
ORDER BY (timestamp, id)
`
)

func AllTables() []string {
	return []string{RawTableSQL, DerivedTableSQL}
}

type ClickHouseOutput struct {
	conn driver.Conn
	log  *slog.Logger
}

// options builds the driver options for cfg.
func options(cfg config.ClickHouseConfig) *clickhouse.Options {
	return &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}
}

// NewClickHouse connects, pings and creates the tables if missing.
func NewClickHouse(ctx context.Context, cfg config.ClickHouseConfig, log *slog.Logger) (*ClickHouseOutput, error) {
	conn, err := clickhouse.Open(options(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	c := &ClickHouseOutput{conn: conn, log: logger.OrDefault(log).With("component", "clickhouse")}
	if err := c.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	c.log.Info("connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database)
	return c, nil
}

func (c *ClickHouseOutput) initSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := c.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (c *ClickHouseOutput) InsertRaw(ctx context.Context, value float64, at time.Time) error {
	query := `
		INSERT INTO raw_samples (id, timestamp, value)
		VALUES (?, ?, ?)
	`
	if err := c.conn.Exec(ctx, query, uuid.New(), at, value); err != nil {
		return fmt.Errorf("failed to insert raw sample: %w", err)
	}
	return nil
}

func (c *ClickHouseOutput) InsertDerived(ctx context.Context, value float64, trace []float64, at time.Time) error {
	if trace == nil {
		trace = []float64{}
	}
	query := `
		INSERT INTO derived_results (id, timestamp, value, trace)
		VALUES (?, ?, ?, ?)
	`
	if err := c.conn.Exec(ctx, query, uuid.New(), at, value, trace); err != nil {
		return fmt.Errorf("failed to insert derived result: %w", err)
	}
	return nil
}

func (c *ClickHouseOutput) QueryAllRaw(ctx context.Context) ([]output.Record, error) {
	rows, err := c.conn.Query(ctx, `SELECT id, timestamp, value FROM raw_samples ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw samples: %w", err)
	}
	defer rows.Close()
	records := []output.Record{}
	for rows.Next() {
		var (
			id uuid.UUID
			r  = output.Record{Kind: output.KindRaw}
		)
		if err := rows.Scan(&id, &r.Timestamp, &r.Value); err != nil {
			return nil, fmt.Errorf("failed to scan raw sample: %w", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *ClickHouseOutput) QueryAllDerived(ctx context.Context) ([]output.Record, error) {
	rows, err := c.conn.Query(ctx, `SELECT id, timestamp, value, trace FROM derived_results ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query derived results: %w", err)
	}
	defer rows.Close()
	records := []output.Record{}
	for rows.Next() {
		var (
			id uuid.UUID
			r  = output.Record{Kind: output.KindDerived}
		)
		if err := rows.Scan(&id, &r.Timestamp, &r.Value, &r.Trace); err != nil {
			return nil, fmt.Errorf("failed to scan derived result: %w", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (c *ClickHouseOutput) Close() error {
	return c.conn.Close()
}
