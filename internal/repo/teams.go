package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"crewline/internal/domain"
)

const teamMemberColumns = `id,program_id,worker_id,role,status,COALESCE(invited_by,'') AS invited_by,invited_at,responded_at`

func scanTeamMember(scan func(dest ...any) error) (domain.TeamMember, error) {
	var m domain.TeamMember
	var respondedAt sql.NullString
	err := scan(&m.ID, &m.ProgramID, &m.WorkerID, &m.Role, &m.Status, &m.InvitedBy, &m.InvitedAt, &respondedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if respondedAt.Valid {
		m.RespondedAt = &respondedAt.String
	}
	return m, nil
}

// InsertAssignmentIfAbsent creates the leader-chosen record at most once
// per program. It reports whether this call inserted the row; a false
// return means selection already happened and the caller must short-circuit.
func (r Repo) InsertAssignmentIfAbsent(ctx context.Context, tx *sql.Tx, a domain.Assignment) (bool, error) {
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO assignments(program_id,leader_id,breakdown_json,selected_by,selected_at) VALUES (?,?,?,?,?)`,
		a.ProgramID, a.LeaderID, string(breakdown), a.SelectedBy, a.SelectedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetAssignment(ctx context.Context, programID string) (domain.Assignment, error) {
	var a domain.Assignment
	var breakdown string
	err := r.DB.QueryRowContext(ctx, `SELECT program_id,leader_id,breakdown_json,selected_by,selected_at FROM assignments WHERE program_id=?`, programID).
		Scan(&a.ProgramID, &a.LeaderID, &breakdown, &a.SelectedBy, &a.SelectedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	_ = json.Unmarshal([]byte(breakdown), &a.Breakdown)
	return a, nil
}

// InsertTeamMemberIfAbsent inserts a membership row guarded by the
// UNIQUE(program_id, worker_id) constraint. Reports whether a row was
// created; false means the pair already has a row.
func (r Repo) InsertTeamMemberIfAbsent(ctx context.Context, tx *sql.Tx, m domain.TeamMember) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO team_members(id,program_id,worker_id,role,status,invited_by,invited_at,responded_at)
VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.ProgramID, m.WorkerID, string(m.Role), string(m.Status), nullable(m.InvitedBy), m.InvitedAt, nullableStringPtr(m.RespondedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) GetTeamMember(ctx context.Context, id string) (domain.TeamMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+teamMemberColumns+` FROM team_members WHERE id=?`, id)
	return scanTeamMember(row.Scan)
}

func (r Repo) GetTeamMemberByWorker(ctx context.Context, programID, workerID string) (domain.TeamMember, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+teamMemberColumns+` FROM team_members WHERE program_id=? AND worker_id=?`, programID, workerID)
	return scanTeamMember(row.Scan)
}

func (r Repo) ListTeamMembers(ctx context.Context, programID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+teamMemberColumns+` FROM team_members WHERE program_id=? ORDER BY invited_at ASC, id ASC`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		m, err := scanTeamMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListWorkerInvites(ctx context.Context, workerID string) ([]domain.TeamMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+teamMemberColumns+` FROM team_members WHERE worker_id=? AND status=? ORDER BY invited_at DESC, id DESC`,
		workerID, string(domain.MemberInvited))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TeamMember
	for rows.Next() {
		m, err := scanTeamMember(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// CountTeamMembers counts a program's rows in any of the given statuses.
func (r Repo) CountTeamMembers(ctx context.Context, programID string, statuses ...domain.TeamMemberStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	query := `SELECT count(*) FROM team_members WHERE program_id=? AND status IN (`
	args := []any{programID}
	for i, s := range statuses {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, string(s))
	}
	query += ")"
	var n int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountConcurrentMemberships counts the worker's invited/accepted rows in
// other programs whose status is one of the active team phases. Used for
// the conflict-of-interest gate.
func (r Repo) CountConcurrentMemberships(ctx context.Context, workerID, excludeProgramID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
SELECT count(*) FROM team_members tm
JOIN programs p ON p.id = tm.program_id
WHERE tm.worker_id=? AND tm.program_id != ?
  AND tm.status IN (?,?)
  AND p.status IN (?,?,?)`,
		workerID, excludeProgramID,
		string(domain.MemberInvited), string(domain.MemberAccepted),
		string(domain.StatusTeamFormation), string(domain.StatusInProgress), string(domain.StatusSubmitted)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// RespondTeamMember applies the worker's accept/decline decision only
// while the row is still invited.
func (r Repo) RespondTeamMember(ctx context.Context, tx *sql.Tx, id string, status domain.TeamMemberStatus, respondedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE team_members SET status=?, responded_at=? WHERE id=? AND status=?`,
		string(status), respondedAt, id, string(domain.MemberInvited))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) RemoveTeamMember(ctx context.Context, tx *sql.Tx, id, respondedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE team_members SET status=?, responded_at=? WHERE id=? AND status IN (?,?)`,
		string(domain.MemberRemoved), respondedAt, id, string(domain.MemberInvited), string(domain.MemberAccepted))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PromoteLeaderMembership upserts the leader's accepted row alongside the
// assignment. If the leader already holds a row for the program (e.g. a
// stale invite), it is promoted instead of duplicated.
func (r Repo) PromoteLeaderMembership(ctx context.Context, tx *sql.Tx, m domain.TeamMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO team_members(id,program_id,worker_id,role,status,invited_by,invited_at,responded_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(program_id, worker_id) DO UPDATE SET role=excluded.role, status=excluded.status, responded_at=excluded.responded_at`,
		m.ID, m.ProgramID, m.WorkerID, string(m.Role), string(m.Status), nullable(m.InvitedBy), m.InvitedAt, nullableStringPtr(m.RespondedAt))
	return err
}
