package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"crewline/internal/domain"
)

const workerColumns = `id,name,tier,skills_json,active,attendance_pct,on_time_pct,safety_pct,created_at`

func scanWorker(scan func(dest ...any) error) (domain.Worker, error) {
	var w domain.Worker
	var skills sql.NullString
	var active int
	err := scan(&w.ID, &w.Name, &w.Tier, &skills, &active, &w.AttendancePct, &w.OnTimePct, &w.SafetyPct, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.Active = active != 0
	if skills.Valid && skills.String != "" {
		_ = json.Unmarshal([]byte(skills.String), &w.Skills)
	}
	return w, nil
}

func (r Repo) UpsertWorker(ctx context.Context, w domain.Worker) error {
	skills, err := marshalStrings(w.Skills)
	if err != nil {
		return err
	}
	active := 0
	if w.Active {
		active = 1
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO workers(id,name,tier,skills_json,active,attendance_pct,on_time_pct,safety_pct,created_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, tier=excluded.tier, skills_json=excluded.skills_json, active=excluded.active, attendance_pct=excluded.attendance_pct, on_time_pct=excluded.on_time_pct, safety_pct=excluded.safety_pct`,
		w.ID, w.Name, string(w.Tier), skills, active, w.AttendancePct, w.OnTimePct, w.SafetyPct, w.CreatedAt)
	return err
}

func (r Repo) GetWorker(ctx context.Context, id string) (domain.Worker, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id=?`, id)
	return scanWorker(row.Scan)
}

func (r Repo) ListActiveWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE active=1 ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) UpsertWorkDay(ctx context.Context, d domain.WorkDay) error {
	locked := 0
	if d.Locked {
		locked = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO work_days(worker_id,day,locked,outcome) VALUES (?,?,?,?)
ON CONFLICT(worker_id, day) DO UPDATE SET locked=excluded.locked, outcome=excluded.outcome`,
		d.WorkerID, d.Day, locked, string(d.Outcome))
	return err
}

// CountWorkedDays counts the worker's locked, non-absent day records inside
// the inclusive [from, to] date-key window.
func (r Repo) CountWorkedDays(ctx context.Context, workerID, from, to string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM work_days WHERE worker_id=? AND day >= ? AND day <= ? AND locked=1 AND outcome != ?`,
		workerID, from, to, string(domain.DayAbsent)).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
