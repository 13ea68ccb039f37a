package history

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseSink sends events to ClickHouse using the official native
// client. The table is created on open when missing.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink connects to addr ("host:9000") and prepares table.
func NewClickHouseSink(addr, table string) (*ClickHouseSink, error) {
	if table == "" {
		table = "worker_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	s := &ClickHouseSink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseSink) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		event String,
		occurred_at DateTime64(6),
		run_id String,
		pid UInt32,
		exit_code Nullable(Int32),
		identifier Nullable(String),
		detail Nullable(String)
	) ENGINE = MergeTree()
	ORDER BY (occurred_at, run_id)`, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure clickhouse schema: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Send(ctx context.Context, e Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (event, occurred_at, run_id, pid, exit_code, identifier, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table)

	var exitCode *int32
	if e.ExitCode != nil {
		v := int32(*e.ExitCode)
		exitCode = &v
	}
	var identifier, detail *string
	if e.Identifier != "" {
		identifier = &e.Identifier
	}
	if e.Detail != "" {
		detail = &e.Detail
	}

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.RunID,
		uint32(e.PID),
		exitCode,
		identifier,
		detail,
	)
	if err != nil {
		return fmt.Errorf("insert event into clickhouse: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
