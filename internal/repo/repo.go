package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"crewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const programColumns = `id,title,COALESCE(description,'') AS description,COALESCE(difficulty,'') AS difficulty,required_tier,required_skills_json,team_min,team_max,leader_bonus,member_bonus,COALESCE(application_close_at,'') AS application_close_at,COALESCE(team_formation_close_at,'') AS team_formation_close_at,COALESCE(start_at,'') AS start_at,COALESCE(due_at,'') AS due_at,status,created_at,updated_at`

func scanProgram(scan func(dest ...any) error) (domain.Program, error) {
	var p domain.Program
	var skillsJSON sql.NullString
	err := scan(&p.ID, &p.Title, &p.Description, &p.Difficulty, &p.RequiredTier, &skillsJSON,
		&p.TeamMin, &p.TeamMax, &p.LeaderBonus, &p.MemberBonus,
		&p.ApplicationCloseAt, &p.TeamFormationClose, &p.StartAt, &p.DueAt,
		&p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if skillsJSON.Valid && skillsJSON.String != "" {
		_ = json.Unmarshal([]byte(skillsJSON.String), &p.RequiredSkills)
	}
	return p, nil
}

func (r Repo) InsertProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	skills, err := marshalStrings(p.RequiredSkills)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO programs(id,title,description,difficulty,required_tier,required_skills_json,team_min,team_max,leader_bonus,member_bonus,application_close_at,team_formation_close_at,start_at,due_at,status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), nullable(p.Difficulty), string(p.RequiredTier), skills,
		p.TeamMin, p.TeamMax, p.LeaderBonus, p.MemberBonus,
		nullable(p.ApplicationCloseAt), nullable(p.TeamFormationClose), nullable(p.StartAt), nullable(p.DueAt),
		string(p.Status), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) UpdateProgram(ctx context.Context, tx *sql.Tx, p domain.Program) error {
	skills, err := marshalStrings(p.RequiredSkills)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE programs SET title=?, description=?, difficulty=?, required_tier=?, required_skills_json=?, team_min=?, team_max=?, leader_bonus=?, member_bonus=?, application_close_at=?, team_formation_close_at=?, start_at=?, due_at=?, updated_at=? WHERE id=?`,
		p.Title, nullable(p.Description), nullable(p.Difficulty), string(p.RequiredTier), skills,
		p.TeamMin, p.TeamMax, p.LeaderBonus, p.MemberBonus,
		nullable(p.ApplicationCloseAt), nullable(p.TeamFormationClose), nullable(p.StartAt), nullable(p.DueAt),
		p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id=?`, id)
	return scanProgram(row.Scan)
}

func (r Repo) GetProgramTx(ctx context.Context, tx *sql.Tx, id string) (domain.Program, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id=?`, id)
	return scanProgram(row.Scan)
}

type ProgramFilters struct {
	Status          domain.ProgramStatus
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListPrograms(ctx context.Context, f ProgramFilters) ([]domain.Program, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + programColumns + ` FROM programs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ListProgramsByStatus returns every program currently in the given status,
// oldest first. The scheduler uses this to re-derive due work on each pass.
func (r Repo) ListProgramsByStatus(ctx context.Context, status domain.ProgramStatus) ([]domain.Program, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+programColumns+` FROM programs WHERE status=? ORDER BY created_at ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// TransitionProgram sets the program status to `to` only if the current
// status equals `from`. It reports whether the conditional write applied;
// a false return is a no-op, not an error, which is what makes concurrent
// scheduler runs and admin actions safe to race.
func (r Repo) TransitionProgram(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProgramStatus, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE programs SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), now, id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TransitionProgramFromAny is TransitionProgram with multiple accepted
// pre-states.
func (r Repo) TransitionProgramFromAny(ctx context.Context, tx *sql.Tx, id string, from []domain.ProgramStatus, to domain.ProgramStatus, now string) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	args := []any{string(to), now, id}
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := tx.ExecContext(ctx, `UPDATE programs SET status=?, updated_at=? WHERE id=? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
