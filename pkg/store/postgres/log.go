package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voicescribe/pkg/store"
)

// LogImpl is the transcript log backed by the transcripts table with a GIN
// full-text index. Obtain one via [Store.Log].
type LogImpl struct {
	pool *pgxpool.Pool
}

const transcriptColumns = "id, session_id, speaker_id, speaker_name, text, raw_text, language, trigger, timestamp, duration_ns"

// Write implements [store.TranscriptLog].
func (l *LogImpl) Write(ctx context.Context, t store.Transcript) (int64, error) {
	const q = `
		INSERT INTO transcripts
		    (session_id, speaker_id, speaker_name, text, raw_text, language, trigger, timestamp, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var id int64
	err := l.pool.QueryRow(ctx, q,
		t.SessionID,
		t.SpeakerID,
		t.SpeakerName,
		t.Text,
		t.RawText,
		t.Language,
		t.Trigger,
		ts,
		t.Duration.Nanoseconds(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("transcript log: write: %w", err)
	}
	return id, nil
}

// Recent implements [store.TranscriptLog]. With a limit the newest rows are
// selected and then returned in chronological order.
func (l *LogImpl) Recent(ctx context.Context, opts store.SearchOpts) ([]store.Transcript, error) {
	w := newWhere()
	w.filters(opts)

	q := "SELECT " + transcriptColumns + " FROM transcripts" + w.clause() + " ORDER BY timestamp DESC"
	if opts.Limit > 0 {
		q += " LIMIT " + w.arg(opts.Limit)
	}
	q = "SELECT * FROM (" + q + ") recent ORDER BY timestamp"

	rows, err := l.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("transcript log: recent: %w", err)
	}
	return collectTranscripts(rows)
}

// Search implements [store.TranscriptLog]. The query goes through
// plainto_tsquery, so no operator syntax is needed. The 'simple'
// configuration avoids stemming, which suits mixed-language sessions.
func (l *LogImpl) Search(ctx context.Context, query string, opts store.SearchOpts) ([]store.Transcript, error) {
	w := newWhere()
	w.add("to_tsvector('simple', text) @@ plainto_tsquery('simple', " + w.arg(query) + ")")
	w.filters(opts)

	q := "SELECT " + transcriptColumns + "\n" +
		"FROM   transcripts\n" +
		strings.TrimPrefix(w.clause(), " ") + "\n" +
		"ORDER  BY timestamp"
	if opts.Limit > 0 {
		q += "\nLIMIT " + w.arg(opts.Limit)
	}

	rows, err := l.pool.Query(ctx, q, w.args...)
	if err != nil {
		return nil, fmt.Errorf("transcript log: search: %w", err)
	}
	return collectTranscripts(rows)
}

// where accumulates positional arguments and AND-ed conditions.
type where struct {
	args       []any
	conditions []string
}

func newWhere() *where { return &where{} }

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) add(cond string) { w.conditions = append(w.conditions, cond) }

func (w *where) filters(opts store.SearchOpts) {
	if opts.SessionID != "" {
		w.add("session_id = " + w.arg(opts.SessionID))
	}
	if opts.SpeakerID != "" {
		w.add("speaker_id = " + w.arg(opts.SpeakerID))
	}
	if !opts.After.IsZero() {
		w.add("timestamp > " + w.arg(opts.After))
	}
	if !opts.Before.IsZero() {
		w.add("timestamp < " + w.arg(opts.Before))
	}
}

func (w *where) clause() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conditions, " AND ")
}

func collectTranscripts(rows pgx.Rows) ([]store.Transcript, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Transcript, error) {
		var (
			t          store.Transcript
			durationNS int64
		)
		if err := row.Scan(
			&t.ID,
			&t.SessionID,
			&t.SpeakerID,
			&t.SpeakerName,
			&t.Text,
			&t.RawText,
			&t.Language,
			&t.Trigger,
			&t.Timestamp,
			&durationNS,
		); err != nil {
			return store.Transcript{}, err
		}
		t.Duration = time.Duration(durationNS)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript log: scan rows: %w", err)
	}
	if out == nil {
		out = []store.Transcript{}
	}
	return out, nil
}
