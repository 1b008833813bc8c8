package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"crewline/internal/domain"
)

const applicationColumns = `id,program_id,worker_id,status,ranking_score,COALESCE(rejection_reason,'') AS rejection_reason,preferred_team_size,member_worker_ids_json,snapshot_json,applied_at`

func scanApplication(scan func(dest ...any) error) (domain.Application, error) {
	var a domain.Application
	var score sql.NullFloat64
	var teamSize sql.NullInt64
	var memberIDs, snapshot sql.NullString
	err := scan(&a.ID, &a.ProgramID, &a.WorkerID, &a.Status, &score, &a.RejectionReason, &teamSize, &memberIDs, &snapshot, &a.AppliedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if score.Valid {
		v := score.Float64
		a.RankingScore = &v
	}
	if teamSize.Valid {
		v := int(teamSize.Int64)
		a.PreferredTeamSize = &v
	}
	if memberIDs.Valid && memberIDs.String != "" {
		_ = json.Unmarshal([]byte(memberIDs.String), &a.MemberWorkerIDs)
	}
	if snapshot.Valid && snapshot.String != "" {
		_ = json.Unmarshal([]byte(snapshot.String), &a.Snapshot)
	}
	return a, nil
}

// InsertApplication relies on the UNIQUE(program_id, worker_id) constraint
// to reject duplicate bids; callers map the constraint error to a conflict.
func (r Repo) InsertApplication(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	memberIDs, err := marshalStrings(a.MemberWorkerIDs)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO applications(id,program_id,worker_id,status,ranking_score,rejection_reason,preferred_team_size,member_worker_ids_json,snapshot_json,applied_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ProgramID, a.WorkerID, string(a.Status), nullableFloatPtr(a.RankingScore), nullable(a.RejectionReason),
		nullableIntPtr(a.PreferredTeamSize), memberIDs, string(snapshot), a.AppliedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

func (r Repo) GetApplicationByWorker(ctx context.Context, programID, workerID string) (domain.Application, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE program_id=? AND worker_id=?`, programID, workerID)
	return scanApplication(row.Scan)
}

// ListApplications returns a program's applications in first-applied order.
// The stable ordering is what fixes ranking ties.
func (r Repo) ListApplications(ctx context.Context, programID string, status domain.ApplicationStatus) ([]domain.Application, error) {
	return r.listApplications(ctx, r.DB, programID, status)
}

// ListApplicationsTx is the in-transaction variant; selection reads the
// applied set through it so no application slips in after the race gate.
func (r Repo) ListApplicationsTx(ctx context.Context, tx *sql.Tx, programID string, status domain.ApplicationStatus) ([]domain.Application, error) {
	return r.listApplications(ctx, tx, programID, status)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r Repo) listApplications(ctx context.Context, q querier, programID string, status domain.ApplicationStatus) ([]domain.Application, error) {
	clauses := []string{"program_id=?"}
	args := []any{programID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(status))
	}
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY applied_at ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListWorkerApplications(ctx context.Context, workerID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE worker_id=? ORDER BY applied_at DESC, id DESC`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetApplicationOutcome(ctx context.Context, tx *sql.Tx, id string, status domain.ApplicationStatus, score *float64, reason string) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?, ranking_score=?, rejection_reason=? WHERE id=?`,
		string(status), nullableFloatPtr(score), nullable(reason), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectApplicationIfApplied flips a single application to rejected only
// while it is still in the applied state.
func (r Repo) RejectApplicationIfApplied(ctx context.Context, tx *sql.Tx, id, reason string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?, rejection_reason=? WHERE id=? AND status=?`,
		string(domain.ApplicationRejected), nullable(reason), id, string(domain.ApplicationApplied))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
