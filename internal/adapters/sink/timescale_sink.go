package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

const DefaultTable = "observations"

// TimescaleSink archives observations into a TimescaleDB hypertable. The
// structured part of an observation (condition, data set entries, time series
// samples) is stored as a jsonb payload.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	if table == "" {
		table = DefaultTable
	}
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureSchema creates the table and turns it into a hypertable when the
// timescaledb extension is present.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	device_uuid TEXT NOT NULL,
	data_item_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	category TEXT NOT NULL,
	type TEXT NOT NULL,
	value TEXT,
	payload JSONB,
	UNIQUE (data_item_id, ts, seq)
)`, t.tableName)
	if _, err := t.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sink.EnsureSchema: create table failed: %w", err)
	}
	hyper := fmt.Sprintf(`SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)
WHERE EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`, t.tableName)
	if _, err := t.db.ExecContext(ctx, hyper); err != nil {
		return fmt.Errorf("sink.EnsureSchema: create hypertable failed: %w", err)
	}
	return nil
}

func (t *TimescaleSink) WriteBatch(batch []*domain.Observation) error {
	if len(batch) == 0 {
		return nil
	}

	// INSERT ... ON CONFLICT DO NOTHING keeps WAL replays idempotent.
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (device_uuid, data_item_id, seq, ts, category, type, value, payload) VALUES ")

	args := make([]any, 0, len(batch)*8)
	for i, obs := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8))

		payload, err := encodePayload(obs)
		if err != nil {
			return fmt.Errorf("sink.WriteBatch: marshal payload failed: %w", err)
		}
		args = append(args,
			obs.DeviceUUID,
			obs.DataItemID,
			obs.Sequence,
			obs.Timestamp,
			string(obs.Category),
			obs.Type,
			nullable(obs.Value),
			payload,
		)
	}

	b.WriteString(" ON CONFLICT (data_item_id, ts, seq) DO NOTHING")

	if _, err := t.db.Exec(b.String(), args...); err != nil {
		return fmt.Errorf("sink.WriteBatch: insert failed: %w", err)
	}
	return nil
}

type payload struct {
	Condition *domain.Condition `json:"condition,omitempty"`
	Entries   []domain.Entry    `json:"entries,omitempty"`
	Samples   []float64         `json:"samples,omitempty"`
	Rate      float64           `json:"sampleRate,omitempty"`
}

func encodePayload(obs *domain.Observation) (any, error) {
	if obs.Condition == nil && len(obs.Entries) == 0 && len(obs.Samples) == 0 {
		return nil, nil
	}
	return json.Marshal(payload{Condition: obs.Condition, Entries: obs.Entries, Samples: obs.Samples, Rate: obs.Rate})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ ports.Sink = (*TimescaleSink)(nil)
