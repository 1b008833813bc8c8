package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"crewline/internal/domain"
)

func (r Repo) UpsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	checklist, err := marshalMap(s.Checklist)
	if err != nil {
		return err
	}
	evidence, err := marshalMap(s.Evidence)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions(program_id,checklist_json,evidence_json,submitted_by,submitted_at,updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(program_id) DO UPDATE SET checklist_json=excluded.checklist_json, evidence_json=excluded.evidence_json, submitted_by=excluded.submitted_by, updated_at=excluded.updated_at`,
		s.ProgramID, checklist, evidence, s.SubmittedBy, s.SubmittedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSubmission(ctx context.Context, programID string) (domain.Submission, error) {
	var s domain.Submission
	var checklist, evidence sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT program_id,checklist_json,evidence_json,submitted_by,submitted_at,updated_at FROM submissions WHERE program_id=?`, programID).
		Scan(&s.ProgramID, &checklist, &evidence, &s.SubmittedBy, &s.SubmittedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if checklist.Valid && checklist.String != "" {
		_ = json.Unmarshal([]byte(checklist.String), &s.Checklist)
	}
	if evidence.Valid && evidence.String != "" {
		_ = json.Unmarshal([]byte(evidence.String), &s.Evidence)
	}
	return s, nil
}

// UpsertVerification keeps one verification per program; a new decision
// overwrites the previous cycle's record.
func (r Repo) UpsertVerification(ctx context.Context, tx *sql.Tx, v domain.Verification) error {
	scores, err := json.Marshal(v.QCScores)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO verifications(program_id,decision,qc_scores_json,notes,verified_by,verified_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(program_id) DO UPDATE SET decision=excluded.decision, qc_scores_json=excluded.qc_scores_json, notes=excluded.notes, verified_by=excluded.verified_by, verified_at=excluded.verified_at`,
		v.ProgramID, string(v.Decision), string(scores), nullable(v.Notes), v.VerifiedBy, v.VerifiedAt)
	return err
}

func (r Repo) GetVerification(ctx context.Context, programID string) (domain.Verification, error) {
	var v domain.Verification
	var scores, notes sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT program_id,decision,qc_scores_json,COALESCE(notes,''),verified_by,verified_at FROM verifications WHERE program_id=?`, programID).
		Scan(&v.ProgramID, &v.Decision, &scores, &notes, &v.VerifiedBy, &v.VerifiedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if notes.Valid {
		v.Notes = notes.String
	}
	if scores.Valid && scores.String != "" {
		_ = json.Unmarshal([]byte(scores.String), &v.QCScores)
	}
	return v, nil
}

// InsertIncentiveIfAbsent posts one payable reward guarded by the
// UNIQUE(worker_id, source, source_id, kind) constraint. Reports whether
// this call created the row; false means the payout already exists and
// the caller treats the retry as done. Amounts are never updated.
func (r Repo) InsertIncentiveIfAbsent(ctx context.Context, tx *sql.Tx, e domain.IncentiveEvent) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO incentive_events(id,worker_id,source,source_id,kind,amount,effective_date_key,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.WorkerID, e.Source, e.SourceID, string(e.Kind), e.Amount, e.EffectiveDateKey, e.Status, e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) ListIncentivesBySource(ctx context.Context, source, sourceID string) ([]domain.IncentiveEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,worker_id,source,source_id,kind,amount,effective_date_key,status,created_at FROM incentive_events WHERE source=? AND source_id=? ORDER BY created_at ASC, id ASC`,
		source, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IncentiveEvent
	for rows.Next() {
		var e domain.IncentiveEvent
		if err := rows.Scan(&e.ID, &e.WorkerID, &e.Source, &e.SourceID, &e.Kind, &e.Amount, &e.EffectiveDateKey, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) GetParticipationPolicy(ctx context.Context) (domain.ParticipationPolicy, error) {
	var p domain.ParticipationPolicy
	var enforce int
	err := r.DB.QueryRowContext(ctx, `SELECT min_days_participation,enforce_no_overlap,max_concurrent_programs,updated_at FROM participation_policy WHERE id=1`).
		Scan(&p.MinDaysParticipation, &enforce, &p.MaxConcurrentPrograms, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.EnforceNoOverlap = enforce != 0
	return p, nil
}

func (r Repo) UpsertParticipationPolicy(ctx context.Context, p domain.ParticipationPolicy) error {
	enforce := 0
	if p.EnforceNoOverlap {
		enforce = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO participation_policy(id,min_days_participation,enforce_no_overlap,max_concurrent_programs,updated_at)
VALUES (1,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET min_days_participation=excluded.min_days_participation, enforce_no_overlap=excluded.enforce_no_overlap, max_concurrent_programs=excluded.max_concurrent_programs, updated_at=excluded.updated_at`,
		p.MinDaysParticipation, enforce, p.MaxConcurrentPrograms, p.UpdatedAt)
	return err
}

func marshalMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
