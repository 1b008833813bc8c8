package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crewline/internal/domain"
)

func (r Repo) LatestEvents(ctx context.Context, limit int, programID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if programID != "" {
		clauses = append(clauses, "program_id=?")
		args = append(args, programID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(program_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order. The webhook dispatcher pages through the log with this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, programID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if programID != "" {
		clauses = append(clauses, "program_id=?")
		args = append(args, programID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(program_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID, optionally scoped to a
// program.
func (r Repo) LatestEventID(ctx context.Context, programID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if programID != "" {
		query += ` WHERE program_id=?`
		args = append(args, programID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// HasEvent reports whether at least one event of the given type exists for
// the entity. The scheduler uses this as a sent-once guard for reminders.
func (r Repo) HasEvent(ctx context.Context, evtType, entityKind, entityID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM events WHERE type=? AND entity_kind=? AND entity_id=? LIMIT 1`, evtType, entityKind, entityID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProgramID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
