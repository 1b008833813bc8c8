package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/eval"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// ApplyOptions is a worker's bid to lead a program.
type ApplyOptions struct {
	ProgramID         string
	WorkerID          string
	PreferredTeamSize *int
	MemberWorkerIDs   []string
}

// Apply records a leadership application while the program is published.
func (e Engine) Apply(ctx context.Context, opts ApplyOptions) (domain.Application, error) {
	p, err := e.Repo.GetProgram(ctx, opts.ProgramID)
	if err != nil {
		return domain.Application{}, err
	}
	if p.Status != domain.StatusPublished {
		return domain.Application{}, StateError{Reason: "program is not open for applications"}
	}
	w, err := e.Workers.Worker(ctx, opts.WorkerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Application{}, err
		}
		return domain.Application{}, DependencyError{Source: "worker profile", Err: err}
	}
	verdict := eval.Evaluate(w, p)
	if !w.Tier.AtLeast(p.RequiredTier) {
		return domain.Application{}, ValidationError{Field: "worker", Reason: fmt.Sprintf("tier %s is below required %s", w.Tier, p.RequiredTier)}
	}
	if opts.PreferredTeamSize != nil {
		size := *opts.PreferredTeamSize
		if size < p.TeamMin || size > p.TeamMax {
			return domain.Application{}, ValidationError{Field: "preferred_team_size", Reason: fmt.Sprintf("must be between %d and %d", p.TeamMin, p.TeamMax)}
		}
		if len(opts.MemberWorkerIDs) != size-1 {
			return domain.Application{}, ValidationError{Field: "member_worker_ids", Reason: fmt.Sprintf("must list %d workers for a team of %d", size-1, size)}
		}
	}
	a := domain.Application{
		ID:                uuid.New().String(),
		ProgramID:         p.ID,
		WorkerID:          w.ID,
		Status:            domain.ApplicationApplied,
		PreferredTeamSize: opts.PreferredTeamSize,
		MemberWorkerIDs:   normalizeMemberIDs(opts.MemberWorkerIDs, w.ID),
		Snapshot:          verdict.Snapshot,
		AppliedAt:         e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApplication(ctx, tx, a); err != nil {
		if isUniqueViolation(err) {
			return a, ConflictError{Reason: "worker already applied for this program"}
		}
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "application.created", p.ID, "application", a.ID, w.ID, events.EventPayload{"worker_id": w.ID}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// normalizeMemberIDs de-duplicates the proposed member list and drops the
// applicant.
func normalizeMemberIDs(ids []string, applicantID string) []string {
	seen := map[string]bool{applicantID: true}
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// SelectionOutcome describes what a SelectLeader call did.
type SelectionOutcome struct {
	ProgramID       string             `json:"program_id"`
	Assignment      *domain.Assignment `json:"assignment,omitempty"`
	AlreadySelected bool               `json:"already_selected"`
	NoApplicants    bool               `json:"no_applicants"`
}

const rejectionLowerScore = "Lower ranking score"

// SelectLeader scores all applied applications, picks the top entry and
// performs the full selection as one unit: assignment, leader membership,
// application outcomes and the program transition. The scheduler and the
// admin endpoint both call this; re-invocation after an assignment exists
// short-circuits to "already selected".
func (e Engine) SelectLeader(ctx context.Context, programID, actorID string) (SelectionOutcome, error) {
	out := SelectionOutcome{ProgramID: programID}
	if existing, err := e.Repo.GetAssignment(ctx, programID); err == nil {
		out.Assignment = &existing
		out.AlreadySelected = true
		return out, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return out, err
	}
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return out, err
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	// The conditional write is the race gate: one caller wins it, every
	// concurrent or repeated caller sees a no-op and backs off.
	ok, err := e.Repo.TransitionProgram(ctx, tx, p.ID, domain.StatusPublished, domain.StatusSelectionRunning, now)
	if err != nil {
		return out, err
	}
	if !ok {
		tx.Rollback()
		if existing, err := e.Repo.GetAssignment(ctx, programID); err == nil {
			out.Assignment = &existing
			out.AlreadySelected = true
			return out, nil
		}
		return out, StateError{Reason: "program is not open for leader selection"}
	}

	// Read the applied set only after winning the gate so a late
	// application cannot slip past the outcome writes below.
	apps, err := e.Repo.ListApplicationsTx(ctx, tx, p.ID, domain.ApplicationApplied)
	if err != nil {
		return out, err
	}

	if len(apps) == 0 {
		if _, err := e.Repo.TransitionProgram(ctx, tx, p.ID, domain.StatusSelectionRunning, domain.StatusFailed, now); err != nil {
			return out, err
		}
		if err := e.Events.Append(ctx, tx, "program.failed", p.ID, "program", p.ID, actorID, events.EventPayload{"reason": "no applications"}); err != nil {
			return out, err
		}
		if err := tx.Commit(); err != nil {
			return out, err
		}
		out.NoApplicants = true
		return out, nil
	}

	// Stable sort keeps first-applied order for equal scores.
	scores := make([]float64, len(apps))
	for i, a := range apps {
		scores[i] = eval.Score(a.Snapshot)
	}
	order := make([]int, len(apps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	winner := apps[order[0]]
	breakdown := eval.Breakdown(winner.Snapshot)
	breakdown.ApplicantCount = len(apps)
	assignment := domain.Assignment{
		ProgramID:  p.ID,
		LeaderID:   winner.WorkerID,
		Breakdown:  breakdown,
		SelectedBy: actorID,
		SelectedAt: now,
	}
	inserted, err := e.Repo.InsertAssignmentIfAbsent(ctx, tx, assignment)
	if err != nil {
		return out, err
	}
	if !inserted {
		tx.Rollback()
		existing, err := e.Repo.GetAssignment(ctx, programID)
		if err != nil {
			return out, err
		}
		out.Assignment = &existing
		out.AlreadySelected = true
		return out, nil
	}
	if err := e.Repo.PromoteLeaderMembership(ctx, tx, domain.TeamMember{
		ID:          uuid.New().String(),
		ProgramID:   p.ID,
		WorkerID:    winner.WorkerID,
		Role:        domain.RoleLeader,
		Status:      domain.MemberAccepted,
		InvitedAt:   now,
		RespondedAt: &now,
	}); err != nil {
		return out, err
	}
	for _, idx := range order {
		a := apps[idx]
		score := scores[idx]
		if a.ID == winner.ID {
			if err := e.Repo.SetApplicationOutcome(ctx, tx, a.ID, domain.ApplicationSelected, &score, ""); err != nil {
				return out, err
			}
			continue
		}
		if err := e.Repo.SetApplicationOutcome(ctx, tx, a.ID, domain.ApplicationRejected, &score, rejectionLowerScore); err != nil {
			return out, err
		}
	}
	if _, err := e.Repo.TransitionProgram(ctx, tx, p.ID, domain.StatusSelectionRunning, domain.StatusTeamFormation, now); err != nil {
		return out, err
	}
	if err := e.Events.Append(ctx, tx, "program.leader_selected", p.ID, "assignment", p.ID, actorID, events.EventPayload{
		"leader_id":  winner.WorkerID,
		"score":      breakdown.Score,
		"applicants": len(apps),
	}); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	e.Notifier.Notify(ctx, winner.WorkerID, "leader_selected", fmt.Sprintf("You were selected to lead program %s", p.Title))
	out.Assignment = &assignment
	return out, nil
}

// AdminApproveApplication is the manual alternative to scheduler selection:
// the chosen application wins regardless of score.
func (e Engine) AdminApproveApplication(ctx context.Context, applicationID, actorID string) (domain.Assignment, error) {
	app, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if app.Status != domain.ApplicationApplied {
		return domain.Assignment{}, StateError{Reason: "application is not pending"}
	}
	p, err := e.Repo.GetProgram(ctx, app.ProgramID)
	if err != nil {
		return domain.Assignment{}, err
	}
	apps, err := e.Repo.ListApplications(ctx, p.ID, domain.ApplicationApplied)
	if err != nil {
		return domain.Assignment{}, err
	}

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()

	ok, err := e.Repo.TransitionProgramFromAny(ctx, tx, p.ID,
		[]domain.ProgramStatus{domain.StatusPublished, domain.StatusLeaderSelected},
		domain.StatusTeamFormation, now)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !ok {
		return domain.Assignment{}, StateError{Reason: "program is not awaiting leader selection"}
	}
	breakdown := eval.Breakdown(app.Snapshot)
	breakdown.ApplicantCount = len(apps)
	assignment := domain.Assignment{
		ProgramID:  p.ID,
		LeaderID:   app.WorkerID,
		Breakdown:  breakdown,
		SelectedBy: actorID,
		SelectedAt: now,
	}
	inserted, err := e.Repo.InsertAssignmentIfAbsent(ctx, tx, assignment)
	if err != nil {
		return domain.Assignment{}, err
	}
	if !inserted {
		return domain.Assignment{}, ConflictError{Reason: "leader already selected for this program"}
	}
	if err := e.Repo.PromoteLeaderMembership(ctx, tx, domain.TeamMember{
		ID:          uuid.New().String(),
		ProgramID:   p.ID,
		WorkerID:    app.WorkerID,
		Role:        domain.RoleLeader,
		Status:      domain.MemberAccepted,
		InvitedAt:   now,
		RespondedAt: &now,
	}); err != nil {
		return domain.Assignment{}, err
	}
	for _, other := range apps {
		score := eval.Score(other.Snapshot)
		if other.ID == app.ID {
			if err := e.Repo.SetApplicationOutcome(ctx, tx, other.ID, domain.ApplicationSelected, &score, ""); err != nil {
				return domain.Assignment{}, err
			}
			continue
		}
		if err := e.Repo.SetApplicationOutcome(ctx, tx, other.ID, domain.ApplicationRejected, &score, "Another applicant was approved"); err != nil {
			return domain.Assignment{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "program.leader_selected", p.ID, "assignment", p.ID, actorID, events.EventPayload{
		"leader_id": app.WorkerID,
		"manual":    true,
	}); err != nil {
		return domain.Assignment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Assignment{}, err
	}
	e.Notifier.Notify(ctx, app.WorkerID, "leader_selected", fmt.Sprintf("You were selected to lead program %s", p.Title))
	return assignment, nil
}

// AdminRejectApplication declines a pending application.
func (e Engine) AdminRejectApplication(ctx context.Context, applicationID, reason, actorID string) error {
	app, err := e.Repo.GetApplication(ctx, applicationID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "Rejected by administrator"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RejectApplicationIfApplied(ctx, tx, app.ID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return StateError{Reason: "application is not pending"}
	}
	if err := e.Events.Append(ctx, tx, "application.rejected", app.ProgramID, "application", app.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
