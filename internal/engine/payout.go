package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/metrics"
	"crewline/internal/repo"
)

// SubmitCompletion records the leader's completion package and moves the
// program to submitted.
func (e Engine) SubmitCompletion(ctx context.Context, programID, leaderID string, checklist, evidence map[string]any) (domain.Submission, error) {
	assignment, err := e.Repo.GetAssignment(ctx, programID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Submission{}, StateError{Reason: "program has no leader"}
		}
		return domain.Submission{}, err
	}
	if assignment.LeaderID != leaderID {
		return domain.Submission{}, ValidationError{Field: "leader_id", Reason: "only the program leader can submit"}
	}
	now := e.nowString()
	s := domain.Submission{
		ProgramID:   programID,
		Checklist:   checklist,
		Evidence:    evidence,
		SubmittedBy: leaderID,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgramFromAny(ctx, tx, programID,
		[]domain.ProgramStatus{domain.StatusLeaderSelected, domain.StatusTeamFormation, domain.StatusInProgress},
		domain.StatusSubmitted, now)
	if err != nil {
		return s, err
	}
	if !ok {
		return s, StateError{Reason: "program cannot be submitted from its current state"}
	}
	if err := e.Repo.UpsertSubmission(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "program.submitted", programID, "submission", programID, leaderID, nil); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// SupervisorVerify records the supervisor's decision on a submitted program.
// Pass moves the program to verified, fail to rejected.
func (e Engine) SupervisorVerify(ctx context.Context, programID, supervisorID string, decision domain.VerificationDecision, qcScores map[string]float64, notes string) (domain.Verification, error) {
	if decision != domain.DecisionPass && decision != domain.DecisionFail {
		return domain.Verification{}, ValidationError{Field: "decision", Reason: "must be pass or fail"}
	}
	if _, err := e.Repo.GetSubmission(ctx, programID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Verification{}, StateError{Reason: "program has no submission to verify"}
		}
		return domain.Verification{}, err
	}
	now := e.nowString()
	v := domain.Verification{
		ProgramID:  programID,
		Decision:   decision,
		QCScores:   qcScores,
		Notes:      notes,
		VerifiedBy: supervisorID,
		VerifiedAt: now,
	}
	next := domain.StatusRejected
	if decision == domain.DecisionPass {
		next = domain.StatusVerified
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return v, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgram(ctx, tx, programID, domain.StatusSubmitted, next, now)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, StateError{Reason: "program is not awaiting verification"}
	}
	if err := e.Repo.UpsertVerification(ctx, tx, v); err != nil {
		return v, err
	}
	if err := e.Events.Append(ctx, tx, "program.verified", programID, "verification", programID, supervisorID, events.EventPayload{"decision": string(decision)}); err != nil {
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, err
	}
	return v, nil
}

// PayoutResult reports what happened for one team member during approval.
type PayoutResult struct {
	WorkerID      string               `json:"worker_id"`
	Role          domain.TeamRole      `json:"role"`
	Kind          domain.IncentiveKind `json:"kind"`
	Amount        int64                `json:"amount"`
	WorkedDays    int                  `json:"worked_days"`
	Posted        bool                 `json:"posted"`
	SkippedReason string               `json:"skipped_reason,omitempty"`
}

// PayoutSummary is the outcome of ApproveAndPostPayout.
type PayoutSummary struct {
	ProgramID       string         `json:"program_id"`
	Results         []PayoutResult `json:"results"`
	AlreadyApproved bool           `json:"already_approved"`
}

// ApproveAndPostPayout finalizes a verified program: each accepted member who
// meets the participation floor gets their bonus posted exactly once, then
// the program moves to approved. Re-running after a partial failure posts
// only what is still missing.
func (e Engine) ApproveAndPostPayout(ctx context.Context, programID, actorID string) (PayoutSummary, error) {
	out := PayoutSummary{ProgramID: programID}
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return out, err
	}
	if p.Status == domain.StatusApproved {
		out.AlreadyApproved = true
		return out, nil
	}
	if p.Status != domain.StatusVerified {
		return out, StateError{Reason: "program is not verified"}
	}
	v, err := e.Repo.GetVerification(ctx, programID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return out, StateError{Reason: "program has no verification"}
		}
		return out, err
	}
	if v.Decision != domain.DecisionPass {
		return out, StateError{Reason: "verification did not pass"}
	}
	if _, err := e.Repo.GetAssignment(ctx, programID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return out, StateError{Reason: "program has no leader"}
		}
		return out, err
	}
	members, err := e.Repo.ListTeamMembers(ctx, programID)
	if err != nil {
		return out, err
	}
	pol, err := e.policy(ctx)
	if err != nil {
		return out, err
	}
	from, to := e.payoutWindow(p)

	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return out, err
	}
	defer tx.Rollback()

	for _, m := range members {
		if m.Status != domain.MemberAccepted {
			continue
		}
		res := PayoutResult{WorkerID: m.WorkerID, Role: m.Role}
		res.Kind = domain.KindMemberBonus
		res.Amount = p.MemberBonus
		if m.Role == domain.RoleLeader {
			res.Kind = domain.KindLeaderBonus
			res.Amount = p.LeaderBonus
		}
		days, err := e.Attendance.WorkedDays(ctx, m.WorkerID, from, to)
		if err != nil {
			log.Printf("payout: attendance lookup for %s on %s failed: %v", m.WorkerID, programID, err)
			res.SkippedReason = fmt.Sprintf("attendance lookup failed: %v", err)
			out.Results = append(out.Results, res)
			continue
		}
		res.WorkedDays = days
		if days < pol.MinDaysParticipation {
			res.SkippedReason = fmt.Sprintf("worked %d of %d required days", days, pol.MinDaysParticipation)
			out.Results = append(out.Results, res)
			continue
		}
		if res.Amount <= 0 {
			res.SkippedReason = "no bonus configured"
			out.Results = append(out.Results, res)
			continue
		}
		posted, err := e.Repo.InsertIncentiveIfAbsent(ctx, tx, domain.IncentiveEvent{
			ID:               uuid.New().String(),
			WorkerID:         m.WorkerID,
			Source:           domain.IncentiveSourceProgram,
			SourceID:         programID,
			Kind:             res.Kind,
			Amount:           res.Amount,
			EffectiveDateKey: e.now().UTC().Format("2006-01-02"),
			Status:           "posted",
			CreatedAt:        now,
		})
		if err != nil {
			return out, err
		}
		res.Posted = posted
		if posted {
			if err := e.Events.Append(ctx, tx, "incentive.posted", programID, "incentive", m.WorkerID, actorID, events.EventPayload{
				"worker_id": m.WorkerID,
				"kind":      string(res.Kind),
				"amount":    res.Amount,
			}); err != nil {
				return out, err
			}
		}
		out.Results = append(out.Results, res)
	}

	ok, err := e.Repo.TransitionProgram(ctx, tx, programID, domain.StatusVerified, domain.StatusApproved, now)
	if err != nil {
		return out, err
	}
	if !ok {
		out.AlreadyApproved = true
		return out, tx.Commit()
	}
	if err := e.Events.Append(ctx, tx, "program.approved", programID, "program", programID, actorID, nil); err != nil {
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, err
	}
	for _, r := range out.Results {
		if r.Posted {
			metrics.IncentivesPosted.Inc()
			e.Notifier.Notify(ctx, r.WorkerID, "incentive_posted", fmt.Sprintf("Your %s for program %s was posted", r.Kind, p.Title))
		}
	}
	return out, nil
}

// payoutWindow derives the participation window from the program schedule.
// Without a schedule the window collapses to today.
func (e Engine) payoutWindow(p domain.Program) (string, string) {
	today := e.now().UTC().Format("2006-01-02")
	from, to := today, today
	if p.StartAt != "" {
		if t, err := time.Parse(time.RFC3339, p.StartAt); err == nil {
			from = t.UTC().Format("2006-01-02")
		}
	}
	if p.DueAt != "" {
		if t, err := time.Parse(time.RFC3339, p.DueAt); err == nil {
			to = t.UTC().Format("2006-01-02")
		}
	}
	if to < from {
		to = from
	}
	return from, to
}
