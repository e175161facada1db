package policy

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresSinkConfig configures the Postgres-backed analytics sink.
type PostgresSinkConfig struct {
	// BufferSize bounds the channel Record writes to; when full, events are
	// dropped and logged rather than blocking the caller (fail-open posture —
	// analytics recording must never turn a policy decision into a failed
	// tool call).
	BufferSize int
	// FlushInterval controls how often queued events are batch-inserted.
	FlushInterval time.Duration
	// FlushBatchSize caps how many events one flush inserts.
	FlushBatchSize int
}

func (c PostgresSinkConfig) withDefaults() PostgresSinkConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.FlushBatchSize <= 0 {
		c.FlushBatchSize = 200
	}
	return c
}

// PostgresSink implements AnalyticsSink by buffering events on a channel and
// batch-inserting them from a single background goroutine, so Record never
// performs a network round trip on the caller's path.
type PostgresSink struct {
	pool   *pgxpool.Pool
	events chan timestampedEvent
	cfg    PostgresSinkConfig
	cancel context.CancelFunc
	done   chan struct{}
}

type timestampedEvent struct {
	Event
	at time.Time
}

// NewPostgresSink opens a pool against dsn, runs pending migrations, and
// starts the background flusher. Call Close to drain and stop it.
func NewPostgresSink(ctx context.Context, dsn string, cfg PostgresSinkConfig) (*PostgresSink, error) {
	cfg = cfg.withDefaults()

	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("policy analytics migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open policy analytics pool: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresSink{
		pool:   pool,
		events: make(chan timestampedEvent, cfg.BufferSize),
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.flushLoop(runCtx)
	return s, nil
}

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// Record implements AnalyticsSink. It never blocks: a full buffer drops the
// event with a warning log, matching the spec's "must never block the hot
// path" requirement.
func (s *PostgresSink) Record(e Event) {
	select {
	case s.events <- timestampedEvent{Event: e, at: time.Now()}:
	default:
		slog.Warn("policy analytics buffer full, dropping event", "tool", e.ToolName)
	}
}

func (s *PostgresSink) flushLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []timestampedEvent
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertBatch(ctx, batch); err != nil {
			slog.Warn("policy analytics flush failed, dropping batch", "count", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= s.cfg.FlushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *PostgresSink) insertBatch(ctx context.Context, batch []timestampedEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, ev := range batch {
		if _, err := tx.Exec(ctx, `
			INSERT INTO policy_events (ts, tool_name, arguments, action, matched_rule, reason, agent_id)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''))
		`, ev.at, ev.ToolName, ev.Arguments, string(ev.Action), ev.MatchedRule, ev.Reason, ev.AgentID); err != nil {
			return err
		}
		if ev.MatchedRule != "" {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rule_metrics (rule_name, total_evaluations, allow_count, deny_count, ask_count, dry_run_count, last_updated)
				VALUES ($1, 1,
					CASE WHEN $2 = 'allow' THEN 1 ELSE 0 END,
					CASE WHEN $2 = 'deny' THEN 1 ELSE 0 END,
					CASE WHEN $2 = 'ask_user' THEN 1 ELSE 0 END,
					CASE WHEN $2 = 'dry_run_first' THEN 1 ELSE 0 END,
					$3)
				ON CONFLICT (rule_name) DO UPDATE SET
					total_evaluations = rule_metrics.total_evaluations + 1,
					allow_count = rule_metrics.allow_count + CASE WHEN $2 = 'allow' THEN 1 ELSE 0 END,
					deny_count = rule_metrics.deny_count + CASE WHEN $2 = 'deny' THEN 1 ELSE 0 END,
					ask_count = rule_metrics.ask_count + CASE WHEN $2 = 'ask_user' THEN 1 ELSE 0 END,
					dry_run_count = rule_metrics.dry_run_count + CASE WHEN $2 = 'dry_run_first' THEN 1 ELSE 0 END,
					last_updated = $3
			`, ev.MatchedRule, string(ev.Action), ev.at); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

// RuleCounts is one row of aggregated rule-hit metrics.
type RuleCounts struct {
	TotalEvaluations int64
	AllowCount       int64
	DenyCount        int64
	AskCount         int64
	DryRunCount      int64
}

// Query returns recorded events within the last window, optionally filtered
// by a tool-name LIKE pattern.
func (s *PostgresSink) Query(ctx context.Context, window time.Duration, toolPattern string) ([]Event, error) {
	since := time.Now().Add(-window)
	rows, err := s.pool.Query(ctx, `
		SELECT tool_name, arguments, action, COALESCE(matched_rule,''), COALESCE(reason,''), COALESCE(agent_id,'')
		FROM policy_events
		WHERE ts >= $1 AND ($2 = '' OR tool_name LIKE $2)
		ORDER BY ts DESC
	`, since, toolPattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var action string
		if err := rows.Scan(&e.ToolName, &e.Arguments, &action, &e.MatchedRule, &e.Reason, &e.AgentID); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}

// RuleMetrics returns per-rule aggregated hit counters.
func (s *PostgresSink) RuleMetrics(ctx context.Context) (map[string]RuleCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule_name, total_evaluations, allow_count, deny_count, ask_count, dry_run_count
		FROM rule_metrics
		ORDER BY total_evaluations DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]RuleCounts)
	for rows.Next() {
		var name string
		var rc RuleCounts
		if err := rows.Scan(&name, &rc.TotalEvaluations, &rc.AllowCount, &rc.DenyCount, &rc.AskCount, &rc.DryRunCount); err != nil {
			return nil, err
		}
		result[name] = rc
	}
	return result, rows.Err()
}

// Close cancels the background flusher, waits for it to drain, and closes
// the pool.
func (s *PostgresSink) Close() error {
	s.cancel()
	<-s.done
	s.pool.Close()
	return nil
}
