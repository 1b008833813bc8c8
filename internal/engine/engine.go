package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// WorkerDirectory is the worker-profile collaborator. Identity and
// onboarding live outside this system; the engine only reads profiles.
type WorkerDirectory interface {
	Worker(ctx context.Context, id string) (domain.Worker, error)
	ListActive(ctx context.Context) ([]domain.Worker, error)
}

// AttendanceSource supplies worked-day counts for the participation gate:
// locked, non-absent day records inside an inclusive date-key window.
type AttendanceSource interface {
	WorkedDays(ctx context.Context, workerID, fromDay, toDay string) (int, error)
}

// Notifier is a fire-and-forget sink for worker notifications. Failures
// are logged and never affect program state.
type Notifier interface {
	Notify(ctx context.Context, workerID, kind, message string)
}

type repoDirectory struct{ r repo.Repo }

func (d repoDirectory) Worker(ctx context.Context, id string) (domain.Worker, error) {
	return d.r.GetWorker(ctx, id)
}

func (d repoDirectory) ListActive(ctx context.Context) ([]domain.Worker, error) {
	return d.r.ListActiveWorkers(ctx)
}

type repoAttendance struct{ r repo.Repo }

func (a repoAttendance) WorkedDays(ctx context.Context, workerID, fromDay, toDay string) (int, error) {
	return a.r.CountWorkedDays(ctx, workerID, fromDay, toDay)
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, workerID, kind, message string) {
	log.Printf("notify worker=%s kind=%s: %s", workerID, kind, message)
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Workers    WorkerDirectory
	Attendance AttendanceSource
	Notifier   Notifier
	Now        func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{DB: db},
		Config:     cfg,
		Workers:    repoDirectory{r: r},
		Attendance: repoAttendance{r: r},
		Notifier:   logNotifier{},
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// policy returns the stored participation policy, falling back to config
// defaults when the singleton has not been seeded yet.
func (e Engine) policy(ctx context.Context) (domain.ParticipationPolicy, error) {
	p, err := e.Repo.GetParticipationPolicy(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, err
	}
	cfg := e.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return domain.ParticipationPolicy{
		MinDaysParticipation:  cfg.Policy.MinDaysParticipation,
		EnforceNoOverlap:      cfg.Policy.EnforceNoOverlap,
		MaxConcurrentPrograms: cfg.Policy.MaxConcurrentPrograms,
	}, nil
}

// ProgramOptions are the writable fields of a program.
type ProgramOptions struct {
	ID                 string
	Title              string
	Description        string
	Difficulty         string
	RequiredTier       domain.Tier
	RequiredSkills     []string
	TeamMin            int
	TeamMax            int
	LeaderBonus        int64
	MemberBonus        int64
	ApplicationCloseAt string
	TeamFormationClose string
	StartAt            string
	DueAt              string
	ActorID            string
}

func (o ProgramOptions) validate() error {
	if o.RequiredTier != "" && !o.RequiredTier.Valid() {
		return ValidationError{Field: "required_tier", Reason: "unknown tier"}
	}
	if o.TeamMin < 1 {
		return ValidationError{Field: "team_min", Reason: "must be at least 1"}
	}
	if o.TeamMax < o.TeamMin {
		return ValidationError{Field: "team_max", Reason: "must be at least team_min"}
	}
	if o.LeaderBonus < 0 || o.MemberBonus < 0 {
		return ValidationError{Field: "reward", Reason: "bonus must not be negative"}
	}
	for _, ts := range []struct{ field, value string }{
		{"application_close_at", o.ApplicationCloseAt},
		{"team_formation_close_at", o.TeamFormationClose},
		{"start_at", o.StartAt},
		{"due_at", o.DueAt},
	} {
		if ts.value == "" {
			continue
		}
		if _, err := time.Parse(time.RFC3339, ts.value); err != nil {
			return ValidationError{Field: ts.field, Reason: "must be RFC3339"}
		}
	}
	if err := requireOrdered("application_close_at", o.ApplicationCloseAt, "team_formation_close_at", o.TeamFormationClose); err != nil {
		return err
	}
	if err := requireOrdered("team_formation_close_at", o.TeamFormationClose, "due_at", o.DueAt); err != nil {
		return err
	}
	return nil
}

func requireOrdered(earlierField, earlier, laterField, later string) error {
	if earlier == "" || later == "" {
		return nil
	}
	a, _ := time.Parse(time.RFC3339, earlier)
	b, _ := time.Parse(time.RFC3339, later)
	if b.Before(a) {
		return ValidationError{Field: laterField, Reason: "must not be before " + earlierField}
	}
	return nil
}

// CreateProgram creates a program in draft.
func (e Engine) CreateProgram(ctx context.Context, opts ProgramOptions) (domain.Program, error) {
	if opts.RequiredTier == "" {
		opts.RequiredTier = domain.TierBronze
	}
	if opts.TeamMin == 0 {
		opts.TeamMin = 1
	}
	if opts.TeamMax == 0 {
		opts.TeamMax = opts.TeamMin
	}
	if err := opts.validate(); err != nil {
		return domain.Program{}, err
	}
	now := e.nowString()
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Program{
		ID:                 id,
		Title:              opts.Title,
		Description:        opts.Description,
		Difficulty:         opts.Difficulty,
		RequiredTier:       opts.RequiredTier,
		RequiredSkills:     opts.RequiredSkills,
		TeamMin:            opts.TeamMin,
		TeamMax:            opts.TeamMax,
		LeaderBonus:        opts.LeaderBonus,
		MemberBonus:        opts.MemberBonus,
		ApplicationCloseAt: opts.ApplicationCloseAt,
		TeamFormationClose: opts.TeamFormationClose,
		StartAt:            opts.StartAt,
		DueAt:              opts.DueAt,
		Status:             domain.StatusDraft,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Program{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProgram(ctx, tx, p); err != nil {
		return domain.Program{}, err
	}
	if err := e.Events.Append(ctx, tx, "program.created", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Program{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Program{}, err
	}
	return p, nil
}

// UpdateProgram edits a draft program. Time fields, once set, are
// immutable; they may only be filled in while still empty.
func (e Engine) UpdateProgram(ctx context.Context, opts ProgramOptions) (domain.Program, error) {
	p, err := e.Repo.GetProgram(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if p.Status != domain.StatusDraft {
		return p, StateError{Reason: "program is not editable after publication"}
	}
	setTime := func(field string, current *string, next string) error {
		if next == "" || next == *current {
			return nil
		}
		if *current != "" {
			return ValidationError{Field: field, Reason: "is immutable once set"}
		}
		*current = next
		return nil
	}
	if err := setTime("application_close_at", &p.ApplicationCloseAt, opts.ApplicationCloseAt); err != nil {
		return p, err
	}
	if err := setTime("team_formation_close_at", &p.TeamFormationClose, opts.TeamFormationClose); err != nil {
		return p, err
	}
	if err := setTime("start_at", &p.StartAt, opts.StartAt); err != nil {
		return p, err
	}
	if err := setTime("due_at", &p.DueAt, opts.DueAt); err != nil {
		return p, err
	}
	if opts.Title != "" {
		p.Title = opts.Title
	}
	if opts.Description != "" {
		p.Description = opts.Description
	}
	if opts.Difficulty != "" {
		p.Difficulty = opts.Difficulty
	}
	if opts.RequiredTier != "" {
		p.RequiredTier = opts.RequiredTier
	}
	if len(opts.RequiredSkills) > 0 {
		p.RequiredSkills = opts.RequiredSkills
	}
	if opts.TeamMin > 0 {
		p.TeamMin = opts.TeamMin
	}
	if opts.TeamMax > 0 {
		p.TeamMax = opts.TeamMax
	}
	if opts.LeaderBonus > 0 {
		p.LeaderBonus = opts.LeaderBonus
	}
	if opts.MemberBonus > 0 {
		p.MemberBonus = opts.MemberBonus
	}
	check := ProgramOptions{
		RequiredTier:       p.RequiredTier,
		TeamMin:            p.TeamMin,
		TeamMax:            p.TeamMax,
		LeaderBonus:        p.LeaderBonus,
		MemberBonus:        p.MemberBonus,
		ApplicationCloseAt: p.ApplicationCloseAt,
		TeamFormationClose: p.TeamFormationClose,
		StartAt:            p.StartAt,
		DueAt:              p.DueAt,
	}
	if err := check.validate(); err != nil {
		return p, err
	}
	p.UpdatedAt = e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProgram(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "program.updated", p.ID, "program", p.ID, opts.ActorID, events.EventPayload{}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

// PublishProgram opens a draft program for leadership applications.
func (e Engine) PublishProgram(ctx context.Context, programID, actorID string) (domain.Program, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return p, err
	}
	if p.Title == "" {
		return p, ValidationError{Field: "title", Reason: "is required to publish"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgram(ctx, tx, p.ID, domain.StatusDraft, domain.StatusPublished, e.nowString())
	if err != nil {
		return p, err
	}
	if !ok {
		return p, StateError{Reason: "only draft programs can be published"}
	}
	if err := e.Events.Append(ctx, tx, "program.published", p.ID, "program", p.ID, actorID, events.EventPayload{}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = domain.StatusPublished
	return p, nil
}

var archivableFrom = []domain.ProgramStatus{
	domain.StatusDraft, domain.StatusApproved, domain.StatusRejected,
	domain.StatusFailed, domain.StatusExpired,
}

// ArchiveProgram retires a finished (or never published) program. Programs
// are archived, never deleted.
func (e Engine) ArchiveProgram(ctx context.Context, programID, actorID string) (domain.Program, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return p, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgramFromAny(ctx, tx, p.ID, archivableFrom, domain.StatusArchived, e.nowString())
	if err != nil {
		return p, err
	}
	if !ok {
		return p, StateError{Reason: "program is still active and cannot be archived"}
	}
	if err := e.Events.Append(ctx, tx, "program.archived", p.ID, "program", p.ID, actorID, events.EventPayload{"from": p.Status}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	p.Status = domain.StatusArchived
	return p, nil
}
