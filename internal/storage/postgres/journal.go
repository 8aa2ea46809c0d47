package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"intent-settlement/internal/events"
	"intent-settlement/internal/journal"
)

// Journal implements journal.Store on the journal_events table.
type Journal struct {
	pool *Pool
}

var _ journal.Store = (*Journal)(nil)

func NewJournal(pool *Pool) *Journal {
	return &Journal{pool: pool}
}

// OpenJournal connects to dsn and migrates the schema.
func OpenJournal(ctx context.Context, dsn string) (*Journal, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewJournal(pool), nil
}

func (j *Journal) Append(ctx context.Context, ev events.Event) error {
	tag, err := j.pool.Exec(ctx, `
		INSERT INTO journal_events (sequence, event_id, event_type, occurred_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`, int64(ev.Sequence), ev.ID, string(ev.Type), ev.OccurredAt, []byte(ev.Data))
	if err != nil {
		if isDuplicateKeyError(err) {
			return journal.ErrConflict.With(fmt.Errorf("event %s already journaled under another sequence", ev.ID))
		}
		return fmt.Errorf("insert journal event: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing string
	err = j.pool.QueryRow(ctx, `SELECT event_id::text FROM journal_events WHERE sequence = $1`, int64(ev.Sequence)).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check journal sequence %d: %w", ev.Sequence, err)
	}
	if !strings.EqualFold(existing, ev.ID) {
		return journal.ErrConflict.With(fmt.Errorf("sequence %d holds %s, got %s", ev.Sequence, existing, ev.ID))
	}
	return nil
}

func (j *Journal) List(ctx context.Context, opts ...journal.ListOption) ([]events.Event, error) {
	options := journal.BuildListOptions(opts)

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where = append(where, "sequence > "+arg(int64(options.AfterSequence)))
	if len(options.Types) > 0 {
		types := make([]string, len(options.Types))
		for i, t := range options.Types {
			types[i] = string(t)
		}
		where = append(where, "event_type = ANY("+arg(types)+")")
	}
	if !options.Since.IsZero() {
		where = append(where, "occurred_at >= "+arg(options.Since))
	}
	if !options.Until.IsZero() {
		where = append(where, "occurred_at <= "+arg(options.Until))
	}
	order := "ASC"
	if options.Order == journal.SortBySequenceDesc {
		order = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT sequence, event_id::text, event_type, occurred_at, data
		FROM journal_events
		WHERE %s
		ORDER BY sequence %s
		LIMIT %s
	`, strings.Join(where, " AND "), order, arg(options.Limit))

	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal events: %w", err)
	}
	defer rows.Close()

	out := make([]events.Event, 0, options.Limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (events.Event, error) {
	var (
		ev   events.Event
		seq  int64
		typ  string
		data []byte
	)
	if err := row.Scan(&seq, &ev.ID, &typ, &ev.OccurredAt, &data); err != nil {
		return events.Event{}, fmt.Errorf("scan journal event: %w", err)
	}
	ev.Sequence = uint64(seq)
	ev.Type = events.Type(typ)
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.Data = data
	return ev, nil
}

func (j *Journal) Stats(ctx context.Context) (journal.Stats, error) {
	stats := journal.Stats{ByType: make(map[events.Type]int)}
	var last int64
	err := j.pool.QueryRow(ctx, `SELECT count(*), COALESCE(max(sequence), 0) FROM journal_events`).Scan(&stats.Total, &last)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return stats, fmt.Errorf("journal totals: %w", err)
	}
	stats.LastSequence = uint64(last)

	rows, err := j.pool.Query(ctx, `SELECT event_type, count(*) FROM journal_events GROUP BY event_type`)
	if err != nil {
		return stats, fmt.Errorf("journal type counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ   string
			count int
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return stats, fmt.Errorf("scan type count: %w", err)
		}
		stats.ByType[events.Type(typ)] = count
	}
	return stats, rows.Err()
}

func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}
