package scheduler_test

import (
	"context"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/scheduler"
)

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, workerID, kind, _ string) {
	n.calls = append(n.calls, workerID+":"+kind)
}

func newTestScheduler(t *testing.T, now time.Time) (*scheduler.Scheduler, *recordingNotifier) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	eng.Events.Now = eng.Now
	notifier := &recordingNotifier{}
	eng.Notifier = notifier
	return scheduler.New(eng), notifier
}

func seedWorker(t *testing.T, eng engine.Engine, id string, tier domain.Tier) {
	t.Helper()
	err := eng.Repo.UpsertWorker(context.Background(), domain.Worker{
		ID: id, Name: id, Tier: tier, Active: true,
		AttendancePct: 90, OnTimePct: 90, SafetyPct: 90,
		CreatedAt: "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed worker: %v", err)
	}
}

func TestPassSelectsLeaderAfterClose(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now)
	ctx := context.Background()
	seedWorker(t, s.Engine, "w1", domain.TierGold)

	// min size 2 so the pass stops at team formation instead of auto-starting
	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "closing", TeamMin: 2, TeamMax: 3,
		ApplicationCloseAt: "2024-06-01T10:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.Apply(ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"}); err != nil {
		t.Fatal(err)
	}

	stats := s.RunOnce(ctx)
	if stats.LeadersSelected != 1 || stats.Started != 0 || stats.Errors != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusTeamFormation {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPassLeavesOpenWindowAlone(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now)
	ctx := context.Background()
	seedWorker(t, s.Engine, "w1", domain.TierGold)

	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "still open", TeamMin: 1, TeamMax: 3,
		ApplicationCloseAt: "2024-06-02T10:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	stats := s.RunOnce(ctx)
	if stats.LeadersSelected != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusPublished {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPassIsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, notifier := newTestScheduler(t, now)
	ctx := context.Background()
	seedWorker(t, s.Engine, "w1", domain.TierGold)

	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "replayable", TeamMin: 1, TeamMax: 3,
		ApplicationCloseAt: "2024-06-01T10:00:00Z",
		DueAt:              "2024-06-01T20:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.Apply(ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"}); err != nil {
		t.Fatal(err)
	}

	// first pass: selection plus the one-member auto-start
	first := s.RunOnce(ctx)
	second := s.RunOnce(ctx)
	third := s.RunOnce(ctx)
	if first.Errors != 0 || second.Errors != 0 || third.Errors != 0 {
		t.Fatalf("errors: %+v %+v %+v", first, second, third)
	}
	if second.LeadersSelected != 0 || third.LeadersSelected != 0 {
		t.Fatalf("selection repeated: %+v %+v", second, third)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}

	// due within the reminder horizon: exactly one reminder across passes
	reminders := first.Reminders + second.Reminders + third.Reminders
	if reminders != 1 {
		t.Fatalf("reminders = %d", reminders)
	}
	count := 0
	for _, c := range notifier.calls {
		if c == "w1:due_soon" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("reminder notifications = %d (%v)", count, notifier.calls)
	}
}

func TestPassFailsFormationBelowMinimum(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now)
	ctx := context.Background()
	seedWorker(t, s.Engine, "w1", domain.TierGold)

	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "stalled", TeamMin: 3, TeamMax: 5,
		TeamFormationClose: "2024-06-01T10:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.Apply(ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.SelectLeader(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	stats := s.RunOnce(ctx)
	if stats.Failed != 1 || stats.Expired != 0 || stats.Errors != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	// terminal programs are untouched by later passes
	again := s.RunOnce(ctx)
	if again.Failed != 0 || again.Expired != 0 || again.Errors != 0 {
		t.Fatalf("stats: %+v", again)
	}
}

func TestPassExpiresOverdueProgram(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now)
	ctx := context.Background()
	seedWorker(t, s.Engine, "w1", domain.TierGold)

	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "overdue", TeamMin: 1, TeamMax: 3,
		ApplicationCloseAt: "2024-05-30T10:00:00Z",
		DueAt:              "2024-06-01T10:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.Apply(ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"}); err != nil {
		t.Fatal(err)
	}

	// one pass drives select -> start -> expire for a program already past due
	stats := s.RunOnce(ctx)
	if stats.LeadersSelected != 1 || stats.Started != 1 || stats.Expired != 1 || stats.Errors != 0 {
		t.Fatalf("stats: %+v", stats)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPassFailsProgramWithoutApplicants(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTestScheduler(t, now)
	ctx := context.Background()

	p, err := s.Engine.CreateProgram(ctx, engine.ProgramOptions{
		Title: "unloved", TeamMin: 1, TeamMax: 3,
		ApplicationCloseAt: "2024-06-01T10:00:00Z",
		ActorID:            "admin",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Engine.PublishProgram(ctx, p.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	stats := s.RunOnce(ctx)
	if stats.NoApplicants != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	got, _ := s.Engine.Repo.GetProgram(ctx, p.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s", got.Status)
	}
}
