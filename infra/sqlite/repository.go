// Package sqlite implements store.Repository on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/core/store"
)

// Repository persists pipeline state in SQLite. Times are stored as UTC
// unix nanoseconds.
type Repository struct {
	db *sql.DB
}

var _ store.Repository = (*Repository)(nil)

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer and an in-memory database lives in its
	// connection.
	db.SetMaxOpenConns(1)
	r := New(db)
	if err := r.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an open database without touching the schema.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates missing tables and indexes.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *Repository) Close() error { return r.db.Close() }

func unix(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnix(ns int64) time.Time { return time.Unix(0, ns).UTC() }

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unix(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (r *Repository) SaveStream(ctx context.Context, s model.Stream) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO streams (name, format) VALUES (?, ?)
        ON CONFLICT(name) DO UPDATE SET format = excluded.format`, s.Name, string(s.Format))
	return err
}

func (r *Repository) Streams(ctx context.Context) ([]model.Stream, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, format FROM streams ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Stream
	for rows.Next() {
		var s model.Stream
		var format string
		if err := rows.Scan(&s.Name, &format); err != nil {
			return nil, err
		}
		s.Format = model.Format(format)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) SaveNotice(ctx context.Context, n *model.Notice) error {
	if n.ID == "" {
		return fmt.Errorf("notice id is required")
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO notices (id, stream, format, created, payload, is_test)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET stream = excluded.stream, format = excluded.format,
            created = excluded.created, payload = excluded.payload, is_test = excluded.is_test`,
		n.ID, n.Stream, string(n.Format), unix(n.Created), n.Payload, boolInt(n.IsTest))
	return err
}

const noticeColumns = `n.id, n.stream, n.format, n.created, n.payload, n.is_test`

func scanNotices(rows *sql.Rows) ([]*model.Notice, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.Notice
	for rows.Next() {
		var (
			n       model.Notice
			format  string
			created int64
			isTest  int
		)
		if err := rows.Scan(&n.ID, &n.Stream, &format, &created, &n.Payload, &isTest); err != nil {
			return nil, err
		}
		n.Format = model.Format(format)
		n.Created = fromUnix(created)
		n.IsTest = isTest != 0
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *Repository) Notice(ctx context.Context, id string) (*model.Notice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+noticeColumns+` FROM notices n WHERE n.id = ?`, id)
	if err != nil {
		return nil, err
	}
	list, err := scanNotices(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return list[0], nil
}

func (r *Repository) NoticesByStreams(ctx context.Context, streams []string) ([]*model.Notice, error) {
	if len(streams) == 0 {
		return nil, nil
	}
	args := make([]any, len(streams))
	for i, s := range streams {
		args[i] = s
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+noticeColumns+` FROM notices n
        WHERE n.stream IN (`+placeholders(len(streams))+`) ORDER BY n.created, n.id`, args...)
	if err != nil {
		return nil, err
	}
	return scanNotices(rows)
}

func (r *Repository) SaveTrigger(ctx context.Context, t model.Trigger) error {
	def, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trigger %s: %w", t.ID, err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO triggers (id, priority, definition) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET priority = excluded.priority, definition = excluded.definition`,
		t.ID, t.Priority, string(def))
	return err
}

func decodeTrigger(def string) (model.Trigger, error) {
	var t model.Trigger
	if err := json.Unmarshal([]byte(def), &t); err != nil {
		return model.Trigger{}, fmt.Errorf("decode trigger: %w", err)
	}
	return t, nil
}

func (r *Repository) Trigger(ctx context.Context, id string) (model.Trigger, error) {
	var def string
	err := r.db.QueryRowContext(ctx, `SELECT definition FROM triggers WHERE id = ?`, id).Scan(&def)
	if err != nil {
		return model.Trigger{}, notFound(err)
	}
	return decodeTrigger(def)
}

func (r *Repository) Triggers(ctx context.Context) ([]model.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT definition FROM triggers ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Trigger
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		t, err := decodeTrigger(def)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) SaveEvent(ctx context.Context, e model.Event) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO events (id, trigger_id, group_id, time) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET trigger_id = excluded.trigger_id, group_id = excluded.group_id,
            time = excluded.time`,
		e.ID, e.TriggerID, e.GroupID, nullTime(e.Time))
	return err
}

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		e  model.Event
		ts sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.TriggerID, &e.GroupID, &ts); err != nil {
		return model.Event{}, err
	}
	e.Time = timePtr(ts)
	return e, nil
}

func (r *Repository) Event(ctx context.Context, id string) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT id, trigger_id, group_id, time FROM events WHERE id = ?`, id))
	return e, notFound(err)
}

func (r *Repository) EventByGroup(ctx context.Context, triggerID, groupID string) (model.Event, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT id, trigger_id, group_id, time FROM events
        WHERE trigger_id = ? AND group_id = ?`, triggerID, groupID))
	return e, notFound(err)
}

func (r *Repository) Events(ctx context.Context, triggerID string) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, trigger_id, group_id, time FROM events
        WHERE trigger_id = ? ORDER BY time IS NULL, time DESC, group_id`, triggerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteEvent(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	stmts := []string{
		`UPDATE observations SET decision_id = NULL WHERE decision_id IN (SELECT id FROM decisions WHERE event_id = ?)`,
		`DELETE FROM decisions WHERE event_id = ?`,
		`DELETE FROM event_notices WHERE event_id = ?`,
		`DELETE FROM events WHERE id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) AttachNotice(ctx context.Context, eventID, noticeID string) error {
	res, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO event_notices (event_id, notice_id)
        SELECT id, ? FROM events WHERE id = ?`, noticeID, eventID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, eventID).Scan(&exists); err != nil {
			return notFound(err)
		}
	}
	return nil
}

func (r *Repository) DetachNotices(ctx context.Context, triggerID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM event_notices
        WHERE event_id IN (SELECT id FROM events WHERE trigger_id = ?)`, triggerID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Repository) EventNotices(ctx context.Context, eventID string) ([]*model.Notice, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+noticeColumns+` FROM notices n
        JOIN event_notices en ON en.notice_id = n.id
        WHERE en.event_id = ? ORDER BY n.created, n.id`, eventID)
	if err != nil {
		return nil, err
	}
	return scanNotices(rows)
}

func (r *Repository) SaveDecision(ctx context.Context, d model.Decision) error {
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO decisions (id, event_id, created, source, factors)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET event_id = excluded.event_id, created = excluded.created,
            source = excluded.source, factors = excluded.factors`,
		d.ID, d.EventID, unix(d.Created), string(d.Source), string(factors))
	return err
}

func scanDecision(row interface{ Scan(...any) error }) (model.Decision, error) {
	var (
		d       model.Decision
		created int64
		source  string
		factors string
	)
	if err := row.Scan(&d.ID, &d.EventID, &created, &source, &factors); err != nil {
		return model.Decision{}, err
	}
	d.Created = fromUnix(created)
	d.Source = model.Source(source)
	if err := json.Unmarshal([]byte(factors), &d.Factors); err != nil {
		return model.Decision{}, fmt.Errorf("decode factors of %s: %w", d.ID, err)
	}
	return d, nil
}

func (r *Repository) Decision(ctx context.Context, id string) (model.Decision, error) {
	d, err := scanDecision(r.db.QueryRowContext(ctx, `SELECT id, event_id, created, source, factors
        FROM decisions WHERE id = ?`, id))
	return d, notFound(err)
}

func decisionFilter(q store.DecisionQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	if q.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, q.EventID)
	}
	if q.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(q.Source))
	}
	if q.TriggerID != "" {
		where = append(where, "event_id IN (SELECT id FROM events WHERE trigger_id = ?)")
		args = append(args, q.TriggerID)
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (r *Repository) Decisions(ctx context.Context, q store.DecisionQuery) ([]model.Decision, error) {
	where, args := decisionFilter(q)
	rows, err := r.db.QueryContext(ctx, `SELECT id, event_id, created, source, factors FROM decisions`+
		where+` ORDER BY created, id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) DeleteDecisions(ctx context.Context, q store.DecisionQuery) (int, error) {
	where, args := decisionFilter(q)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `UPDATE observations SET decision_id = NULL
        WHERE decision_id IN (SELECT id FROM decisions`+where+`)`, args...); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM decisions`+where, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), tx.Commit()
}

func (r *Repository) SaveObservation(ctx context.Context, o model.Observation) error {
	var decisionID sql.NullString
	if o.DecisionID != "" {
		decisionID = sql.NullString{String: o.DecisionID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO observations
        (id, decision_id, trigger_id, created, finish, observatory, priority, status, is_test, log)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET decision_id = excluded.decision_id, trigger_id = excluded.trigger_id,
            created = excluded.created, finish = excluded.finish, observatory = excluded.observatory,
            priority = excluded.priority, status = excluded.status, is_test = excluded.is_test,
            log = excluded.log`,
		o.ID, decisionID, o.TriggerID, unix(o.Created), nullTime(o.Finish), string(o.Observatory),
		o.Priority, string(o.Status), boolInt(o.IsTest), o.Log)
	return err
}

const observationColumns = `id, decision_id, trigger_id, created, finish, observatory, priority, status, is_test, log`

func scanObservation(row interface{ Scan(...any) error }) (model.Observation, error) {
	var (
		o           model.Observation
		decisionID  sql.NullString
		created     int64
		finish      sql.NullInt64
		observatory string
		status      string
		isTest      int
	)
	if err := row.Scan(&o.ID, &decisionID, &o.TriggerID, &created, &finish, &observatory,
		&o.Priority, &status, &isTest, &o.Log); err != nil {
		return model.Observation{}, err
	}
	o.DecisionID = decisionID.String
	o.Created = fromUnix(created)
	o.Finish = timePtr(finish)
	o.Observatory = model.Observatory(observatory)
	o.Status = model.Status(status)
	o.IsTest = isTest != 0
	return o, nil
}

func (r *Repository) Observation(ctx context.Context, id string) (model.Observation, error) {
	o, err := scanObservation(r.db.QueryRowContext(ctx, `SELECT `+observationColumns+
		` FROM observations WHERE id = ?`, id))
	return o, notFound(err)
}

func (r *Repository) Observations(ctx context.Context, q store.ObservationQuery) ([]model.Observation, error) {
	var (
		where []string
		args  []any
	)
	if q.Observatory != "" {
		where = append(where, "observatory = ?")
		args = append(args, string(q.Observatory))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(q.Status))
	}
	if q.TriggerID != "" {
		where = append(where, "trigger_id = ?")
		args = append(args, q.TriggerID)
	}
	if len(q.DecisionIDs) > 0 {
		where = append(where, "decision_id IN ("+placeholders(len(q.DecisionIDs))+")")
		for _, id := range q.DecisionIDs {
			args = append(args, id)
		}
	}
	if q.IsTest != nil {
		where = append(where, "is_test = ?")
		args = append(args, boolInt(*q.IsTest))
	}
	query := `SELECT ` + observationColumns + ` FROM observations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repository) LatestActiveObservation(ctx context.Context, observatory model.Observatory, now time.Time) (*model.Observation, error) {
	o, err := scanObservation(r.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations
        WHERE observatory = ? AND status = ? AND finish IS NOT NULL AND finish >= ?
        ORDER BY finish DESC LIMIT 1`, string(observatory), string(model.StatusAPIOK), unix(now)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
