package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	eng.Events.Now = eng.Now
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) seedWorker(t *testing.T, id string, tier domain.Tier, att, onTime, safety float64) {
	t.Helper()
	err := env.Engine.Repo.UpsertWorker(env.Ctx, domain.Worker{
		ID:            id,
		Name:          "Worker " + id,
		Tier:          tier,
		Active:        true,
		AttendancePct: att,
		OnTimePct:     onTime,
		SafetyPct:     safety,
		CreatedAt:     "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed worker %s: %v", id, err)
	}
}

func (env testEnv) seedWorkDays(t *testing.T, workerID string, days ...string) {
	t.Helper()
	for _, day := range days {
		err := env.Engine.Repo.UpsertWorkDay(env.Ctx, domain.WorkDay{
			WorkerID: workerID,
			Day:      day,
			Locked:   true,
			Outcome:  domain.DayPresent,
		})
		if err != nil {
			t.Fatalf("seed work day %s/%s: %v", workerID, day, err)
		}
	}
}

func (env testEnv) publishedProgram(t *testing.T, opts engine.ProgramOptions) domain.Program {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Line retrofit"
	}
	if opts.TeamMin == 0 {
		opts.TeamMin = 2
	}
	if opts.TeamMax == 0 {
		opts.TeamMax = 4
	}
	opts.ActorID = "admin"
	p, err := env.Engine.CreateProgram(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create program: %v", err)
	}
	p, err = env.Engine.PublishProgram(env.Ctx, p.ID, "admin")
	if err != nil {
		t.Fatalf("publish program: %v", err)
	}
	return p
}

func TestPublishRequiresTitle(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramOptions{TeamMin: 1, TeamMax: 2, ActorID: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.PublishProgram(env.Ctx, p.ID, "admin")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	// still draft after the failed publish
	got, err := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if err != nil || got.Status != domain.StatusDraft {
		t.Fatalf("status = %s, err = %v", got.Status, err)
	}
}

func TestUpdateOnlyInDraft(t *testing.T) {
	env := newTestEnv(t)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	_, err := env.Engine.UpdateProgram(env.Ctx, engine.ProgramOptions{ID: p.ID, Title: "renamed", TeamMin: 2, TeamMax: 4, ActorID: "admin"})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestApplyValidation(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w-gold", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "w-bronze", domain.TierBronze, 90, 90, 90)
	p := env.publishedProgram(t, engine.ProgramOptions{RequiredTier: domain.TierSilver, TeamMin: 2, TeamMax: 4})

	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-bronze"}); err == nil {
		t.Fatal("expected tier rejection")
	} else {
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected validation error, got %v", err)
		}
	}

	size := 10
	_, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-gold", PreferredTeamSize: &size})
	if err == nil {
		t.Fatal("expected team size rejection")
	}

	size = 3
	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-gold", PreferredTeamSize: &size, MemberWorkerIDs: []string{"a"}})
	if err == nil {
		t.Fatal("expected member list length rejection")
	}

	a, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{
		ProgramID:         p.ID,
		WorkerID:          "w-gold",
		PreferredTeamSize: &size,
		MemberWorkerIDs:   []string{"m1", "w-gold"},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	// the applicant is dropped from their own member list
	if len(a.MemberWorkerIDs) != 1 || a.MemberWorkerIDs[0] != "m1" {
		t.Fatalf("member ids = %v", a.MemberWorkerIDs)
	}
	if a.Snapshot.Tier != domain.TierGold || a.Snapshot.AttendancePct != 90 {
		t.Fatalf("snapshot not captured: %+v", a.Snapshot)
	}

	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-gold"})
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on duplicate apply, got %v", err)
	}
}

func TestApplyClosedProgram(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w1", domain.TierGold, 90, 90, 90)
	p, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramOptions{Title: "draft only", TeamMin: 1, TeamMax: 2, ActorID: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"})
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestSelectLeaderRanking(t *testing.T) {
	env := newTestEnv(t)
	// platinum with perfect metrics scores 92.0, both golds score 72.0
	env.seedWorker(t, "w-top", domain.TierPlatinum, 100, 100, 100)
	env.seedWorker(t, "w-mid", domain.TierGold, 80, 80, 80)
	env.seedWorker(t, "w-low", domain.TierGold, 80, 80, 80)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	for _, id := range []string{"w-mid", "w-top", "w-low"} {
		if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: id}); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
	}

	out, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if out.AlreadySelected || out.Assignment == nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Assignment.LeaderID != "w-top" {
		t.Fatalf("leader = %s", out.Assignment.LeaderID)
	}
	if out.Assignment.Breakdown.Score != 92.0 {
		t.Fatalf("score = %v", out.Assignment.Breakdown.Score)
	}
	if out.Assignment.Breakdown.ApplicantCount != 3 {
		t.Fatalf("applicant count = %d", out.Assignment.Breakdown.ApplicantCount)
	}

	got, err := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if err != nil || got.Status != domain.StatusTeamFormation {
		t.Fatalf("status = %s, err = %v", got.Status, err)
	}

	winner, err := env.Engine.Repo.GetApplicationByWorker(env.Ctx, p.ID, "w-top")
	if err != nil || winner.Status != domain.ApplicationSelected {
		t.Fatalf("winner app: %+v, err %v", winner, err)
	}
	for _, id := range []string{"w-mid", "w-low"} {
		a, err := env.Engine.Repo.GetApplicationByWorker(env.Ctx, p.ID, id)
		if err != nil {
			t.Fatalf("loser app %s: %v", id, err)
		}
		if a.Status != domain.ApplicationRejected || a.RejectionReason != "Lower ranking score" {
			t.Fatalf("loser app %s: %+v", id, a)
		}
		if a.RankingScore == nil || *a.RankingScore != 72.0 {
			t.Fatalf("loser score %s: %v", id, a.RankingScore)
		}
	}

	// the leader holds an accepted membership row
	m, err := env.Engine.Repo.GetTeamMemberByWorker(env.Ctx, p.ID, "w-top")
	if err != nil || m.Role != domain.RoleLeader || m.Status != domain.MemberAccepted {
		t.Fatalf("leader membership: %+v, err %v", m, err)
	}
}

func TestSelectLeaderTieGoesToFirstApplicant(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w-early", domain.TierGold, 80, 80, 80)
	env.seedWorker(t, "w-late", domain.TierGold, 80, 80, 80)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-early"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-late"}); err != nil {
		t.Fatal(err)
	}
	out, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if out.Assignment.LeaderID != "w-early" {
		t.Fatalf("leader = %s", out.Assignment.LeaderID)
	}
}

func TestSelectLeaderIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w1", domain.TierGold, 90, 90, 90)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"}); err != nil {
		t.Fatal(err)
	}
	first, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil {
		t.Fatalf("first select: %v", err)
	}
	second, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil {
		t.Fatalf("second select: %v", err)
	}
	if !second.AlreadySelected {
		t.Fatal("second run should report already selected")
	}
	if second.Assignment.LeaderID != first.Assignment.LeaderID {
		t.Fatalf("leader changed: %s vs %s", second.Assignment.LeaderID, first.Assignment.LeaderID)
	}
}

func TestSelectLeaderResolvesEveryApplication(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w1", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "w2", domain.TierGold, 85, 85, 85)
	env.seedWorker(t, "w3", domain.TierGold, 80, 80, 80)
	env.seedWorker(t, "w-late", domain.TierGold, 99, 99, 99)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	for _, id := range []string{"w1", "w2", "w3"} {
		if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler"); err != nil {
		t.Fatalf("select: %v", err)
	}
	// selection sweeps the whole applied set in the same transaction
	applied, err := env.Engine.Repo.ListApplications(env.Ctx, p.ID, domain.ApplicationApplied)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 0 {
		t.Fatalf("applications left applied after selection: %d", len(applied))
	}
	// and a late applicant cannot create a new applied row
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-late"}); err == nil {
		t.Fatal("expected state error applying after selection")
	}
}

func TestSelectLeaderNoApplicants(t *testing.T) {
	env := newTestEnv(t)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	out, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !out.NoApplicants {
		t.Fatalf("outcome: %+v", out)
	}
	got, err := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if err != nil || got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, err = %v", got.Status, err)
	}
}

func TestAdminApproveOverridesRanking(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w-strong", domain.TierDiamond, 100, 100, 100)
	env.seedWorker(t, "w-picked", domain.TierGold, 80, 80, 80)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-strong"}); err != nil {
		t.Fatal(err)
	}
	picked, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w-picked"})
	if err != nil {
		t.Fatal(err)
	}
	assignment, err := env.Engine.AdminApproveApplication(env.Ctx, picked.ID, "admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if assignment.LeaderID != "w-picked" {
		t.Fatalf("leader = %s", assignment.LeaderID)
	}
	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusTeamFormation {
		t.Fatalf("status = %s", got.Status)
	}
	// automatic selection after a manual approval is a no-op
	out, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler")
	if err != nil || !out.AlreadySelected {
		t.Fatalf("select after approve: %+v, err %v", out, err)
	}
}

func TestAdminRejectApplication(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "w1", domain.TierGold, 90, 90, 90)
	p := env.publishedProgram(t, engine.ProgramOptions{})
	a, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.AdminRejectApplication(env.Ctx, a.ID, "not this time", "admin"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := env.Engine.AdminRejectApplication(env.Ctx, a.ID, "again", "admin"); err == nil {
		t.Fatal("expected state error on double reject")
	}
	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.ApplicationRejected || got.RejectionReason != "not this time" {
		t.Fatalf("application: %+v", got)
	}
}

// formedProgram drives a program through selection with the given leader so
// team tests start from team_formation.
func (env testEnv) formedProgram(t *testing.T, opts engine.ProgramOptions, leaderID string) domain.Program {
	t.Helper()
	p := env.publishedProgram(t, opts)
	if _, err := env.Engine.Apply(env.Ctx, engine.ApplyOptions{ProgramID: p.ID, WorkerID: leaderID}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := env.Engine.SelectLeader(env.Ctx, p.ID, "scheduler"); err != nil {
		t.Fatalf("select: %v", err)
	}
	p, err := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return p
}

func TestCandidatesAreLeaderOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "m1", domain.TierSilver, 85, 85, 85)
	p := env.formedProgram(t, engine.ProgramOptions{TeamMin: 2, TeamMax: 3}, "lead")

	if _, err := env.Engine.ListCandidates(env.Ctx, p.ID, "m1"); err == nil {
		t.Fatal("non-leader should not list candidates")
	}
	workers, err := env.Engine.ListCandidates(env.Ctx, p.ID, "lead")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != "m1" {
		t.Fatalf("candidates: %+v", workers)
	}
}

func TestInviteAndRespond(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "m1", domain.TierSilver, 85, 85, 85)
	env.seedWorker(t, "m2", domain.TierSilver, 85, 85, 85)
	p := env.formedProgram(t, engine.ProgramOptions{TeamMin: 2, TeamMax: 3}, "lead")

	if _, err := env.Engine.InviteMember(env.Ctx, p.ID, "m1", "m2"); err == nil {
		t.Fatal("non-leader invite should fail")
	}
	m, err := env.Engine.InviteMember(env.Ctx, p.ID, "lead", "m1")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.Status != domain.MemberInvited {
		t.Fatalf("status = %s", m.Status)
	}
	_, err = env.Engine.InviteMember(env.Ctx, p.ID, "lead", "m1")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict on duplicate invite, got %v", err)
	}

	got, err := env.Engine.RespondInvite(env.Ctx, p.ID, "m1", true)
	if err != nil || got.Status != domain.MemberAccepted {
		t.Fatalf("respond: %+v, err %v", got, err)
	}
	_, err = env.Engine.RespondInvite(env.Ctx, p.ID, "m1", false)
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error on double respond, got %v", err)
	}

	// capacity: leader + m1 + m2 fills a max of 3
	if _, err := env.Engine.InviteMember(env.Ctx, p.ID, "lead", "m2"); err != nil {
		t.Fatalf("invite m2: %v", err)
	}
	env.seedWorker(t, "m3", domain.TierSilver, 85, 85, 85)
	if _, err := env.Engine.InviteMember(env.Ctx, p.ID, "lead", "m3"); err == nil {
		t.Fatal("expected capacity rejection")
	}
}

func TestInviteConflictOfInterest(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead-a", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "lead-b", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "shared", domain.TierSilver, 85, 85, 85)
	pa := env.formedProgram(t, engine.ProgramOptions{Title: "program A"}, "lead-a")
	pb := env.formedProgram(t, engine.ProgramOptions{Title: "program B"}, "lead-b")

	if _, err := env.Engine.InviteMember(env.Ctx, pa.ID, "lead-a", "shared"); err != nil {
		t.Fatalf("first invite: %v", err)
	}
	_, err := env.Engine.InviteMember(env.Ctx, pb.ID, "lead-b", "shared")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected overlap conflict, got %v", err)
	}

	// declining the first invite frees the worker
	if _, err := env.Engine.RespondInvite(env.Ctx, pa.ID, "shared", false); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := env.Engine.InviteMember(env.Ctx, pb.ID, "lead-b", "shared"); err != nil {
		t.Fatalf("invite after decline: %v", err)
	}
}

func TestStartProgramNeedsMinimumTeam(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "m1", domain.TierSilver, 85, 85, 85)
	p := env.formedProgram(t, engine.ProgramOptions{TeamMin: 2, TeamMax: 3}, "lead")

	err := env.Engine.StartProgram(env.Ctx, p.ID, "scheduler")
	var se engine.StateError
	if !errors.As(err, &se) {
		t.Fatalf("expected state error below minimum, got %v", err)
	}
	if _, err := env.Engine.InviteMember(env.Ctx, p.ID, "lead", "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RespondInvite(env.Ctx, p.ID, "m1", true); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.StartProgram(env.Ctx, p.ID, "scheduler"); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
}

// runningProgram builds a started program with an accepted member roster.
func (env testEnv) runningProgram(t *testing.T, leaderID string, memberIDs ...string) domain.Program {
	t.Helper()
	p := env.formedProgram(t, engine.ProgramOptions{
		TeamMin: 1,
		TeamMax: 1 + len(memberIDs) + 1,
		StartAt: "2024-05-01T00:00:00Z",
		DueAt:   "2024-05-10T00:00:00Z",
		LeaderBonus: 500,
		MemberBonus: 200,
	}, leaderID)
	for _, id := range memberIDs {
		if _, err := env.Engine.InviteMember(env.Ctx, p.ID, leaderID, id); err != nil {
			t.Fatalf("invite %s: %v", id, err)
		}
		if _, err := env.Engine.RespondInvite(env.Ctx, p.ID, id, true); err != nil {
			t.Fatalf("accept %s: %v", id, err)
		}
	}
	if err := env.Engine.StartProgram(env.Ctx, p.ID, "scheduler"); err != nil {
		t.Fatalf("start: %v", err)
	}
	p, err := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return p
}

func TestSubmitAndVerify(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "m1", domain.TierSilver, 85, 85, 85)
	p := env.runningProgram(t, "lead", "m1")

	if _, err := env.Engine.SubmitCompletion(env.Ctx, p.ID, "m1", nil, nil); err == nil {
		t.Fatal("non-leader submit should fail")
	}
	s, err := env.Engine.SubmitCompletion(env.Ctx, p.ID, "lead", map[string]any{"safety_walk": true}, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s.SubmittedBy != "lead" {
		t.Fatalf("submitted_by = %s", s.SubmittedBy)
	}

	_, err = env.Engine.SupervisorVerify(env.Ctx, p.ID, "sup", domain.DecisionFail, nil, "rework needed")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusRejected {
		t.Fatalf("status = %s", got.Status)
	}
	// a rejected program cannot be verified again
	if _, err := env.Engine.SupervisorVerify(env.Ctx, p.ID, "sup", domain.DecisionPass, nil, ""); err == nil {
		t.Fatal("expected state error after rejection")
	}
}

func TestPayoutPostsExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	env.seedWorker(t, "m1", domain.TierSilver, 85, 85, 85)
	env.seedWorker(t, "m2", domain.TierSilver, 85, 85, 85)
	p := env.runningProgram(t, "lead", "m1", "m2")

	// lead and m1 meet the 2-day floor, m2 worked a single day
	env.seedWorkDays(t, "lead", "2024-05-02", "2024-05-03", "2024-05-04")
	env.seedWorkDays(t, "m1", "2024-05-02", "2024-05-03")
	env.seedWorkDays(t, "m2", "2024-05-02")

	if _, err := env.Engine.SubmitCompletion(env.Ctx, p.ID, "lead", nil, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SupervisorVerify(env.Ctx, p.ID, "sup", domain.DecisionPass, map[string]float64{"quality": 4.5}, ""); err != nil {
		t.Fatalf("verify: %v", err)
	}

	sum, err := env.Engine.ApproveAndPostPayout(env.Ctx, p.ID, "admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if sum.AlreadyApproved {
		t.Fatal("first approval reported already approved")
	}
	posted := map[string]int64{}
	for _, r := range sum.Results {
		if r.Posted {
			posted[r.WorkerID] = r.Amount
		}
		if r.WorkerID == "m2" && (r.Posted || r.SkippedReason == "") {
			t.Fatalf("m2 should be skipped: %+v", r)
		}
	}
	if posted["lead"] != 500 || posted["m1"] != 200 {
		t.Fatalf("posted = %v", posted)
	}
	if _, ok := posted["m2"]; ok {
		t.Fatal("m2 was paid despite missing the participation floor")
	}

	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusApproved {
		t.Fatalf("status = %s", got.Status)
	}

	// a retry posts nothing new
	again, err := env.Engine.ApproveAndPostPayout(env.Ctx, p.ID, "admin")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !again.AlreadyApproved {
		t.Fatal("retry should report already approved")
	}
	events, err := env.Engine.Repo.ListIncentivesBySource(env.Ctx, domain.IncentiveSourceProgram, p.ID)
	if err != nil {
		t.Fatalf("list incentives: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("incentive rows = %d", len(events))
	}
}

func TestPayoutRequiresPassedVerification(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	p := env.runningProgram(t, "lead")
	if _, err := env.Engine.ApproveAndPostPayout(env.Ctx, p.ID, "admin"); err == nil {
		t.Fatal("expected state error before verification")
	}
}

func TestExpireProgram(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	p := env.runningProgram(t, "lead")
	if err := env.Engine.ExpireProgram(env.Ctx, p.ID, "due date passed", "scheduler"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s", got.Status)
	}
	if err := env.Engine.ExpireProgram(env.Ctx, p.ID, "again", "scheduler"); err == nil {
		t.Fatal("expected state error on second expire")
	}
}

func TestFailProgramOnFormationClose(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	p := env.formedProgram(t, engine.ProgramOptions{}, "lead")
	if err := env.Engine.ExpireProgram(env.Ctx, p.ID, "window closed", "scheduler"); err == nil {
		t.Fatal("expected state error: forming programs fail, they do not expire")
	}
	if err := env.Engine.FailProgram(env.Ctx, p.ID, "formation window closed below minimum size", "scheduler"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := env.Engine.Repo.GetProgram(env.Ctx, p.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if err := env.Engine.FailProgram(env.Ctx, p.ID, "again", "scheduler"); err == nil {
		t.Fatal("expected state error on second fail")
	}
}

func TestProgramDetail(t *testing.T) {
	env := newTestEnv(t)
	env.seedWorker(t, "lead", domain.TierGold, 90, 90, 90)
	p := env.runningProgram(t, "lead")
	if _, err := env.Engine.SubmitCompletion(env.Ctx, p.ID, "lead", nil, nil); err != nil {
		t.Fatal(err)
	}
	d, err := env.Engine.GetProgramDetail(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if d.Assignment == nil || d.Assignment.LeaderID != "lead" {
		t.Fatalf("assignment: %+v", d.Assignment)
	}
	if d.Submission == nil || len(d.Team) != 1 {
		t.Fatalf("detail: %+v", d)
	}
	if d.Program.Status != domain.StatusSubmitted {
		t.Fatalf("status = %s", d.Program.Status)
	}
}
