package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/eval"
	"crewline/internal/events"
	"crewline/internal/repo"
)

// memberStates counted against team capacity. Declined and removed rows free
// their slot.
var capacityStates = []domain.TeamMemberStatus{domain.MemberInvited, domain.MemberAccepted}

// InviteMember lets the program leader invite a worker onto the team.
func (e Engine) InviteMember(ctx context.Context, programID, leaderID, workerID string) (domain.TeamMember, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if p.Status != domain.StatusTeamFormation {
		return domain.TeamMember{}, StateError{Reason: "program is not in team formation"}
	}
	assignment, err := e.Repo.GetAssignment(ctx, programID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TeamMember{}, StateError{Reason: "program has no leader"}
		}
		return domain.TeamMember{}, err
	}
	if assignment.LeaderID != leaderID {
		return domain.TeamMember{}, ValidationError{Field: "leader_id", Reason: "only the program leader can invite members"}
	}
	if workerID == leaderID {
		return domain.TeamMember{}, ValidationError{Field: "worker_id", Reason: "leader is already on the team"}
	}
	w, err := e.Workers.Worker(ctx, workerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TeamMember{}, err
		}
		return domain.TeamMember{}, DependencyError{Source: "worker profile", Err: err}
	}
	if verdict := eval.Evaluate(w, p); !verdict.Eligible {
		return domain.TeamMember{}, ValidationError{Field: "worker_id", Reason: verdict.Reasons[0]}
	}

	// Capacity counts the leader plus everyone invited or accepted.
	count, err := e.Repo.CountTeamMembers(ctx, programID, capacityStates...)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if count >= p.TeamMax {
		return domain.TeamMember{}, StateError{Reason: fmt.Sprintf("team is at its maximum size of %d", p.TeamMax)}
	}

	pol, err := e.policy(ctx)
	if err != nil {
		return domain.TeamMember{}, err
	}
	if pol.EnforceNoOverlap {
		busy, err := e.Repo.CountConcurrentMemberships(ctx, workerID, programID)
		if err != nil {
			return domain.TeamMember{}, err
		}
		if busy >= pol.MaxConcurrentPrograms {
			return domain.TeamMember{}, ConflictError{Reason: "worker is already committed to another active program"}
		}
	}

	m := domain.TeamMember{
		ID:        uuid.New().String(),
		ProgramID: programID,
		WorkerID:  workerID,
		Role:      domain.RoleMember,
		Status:    domain.MemberInvited,
		InvitedBy: leaderID,
		InvitedAt: e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	inserted, err := e.Repo.InsertTeamMemberIfAbsent(ctx, tx, m)
	if err != nil {
		return m, err
	}
	if !inserted {
		return m, ConflictError{Reason: "worker already has a membership for this program"}
	}
	if err := e.Events.Append(ctx, tx, "team.member_invited", programID, "team_member", m.ID, leaderID, events.EventPayload{"worker_id": workerID}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	e.Notifier.Notify(ctx, workerID, "team_invite", fmt.Sprintf("You were invited to join program %s", p.Title))
	return m, nil
}

// RespondInvite records a worker's answer to a pending invitation.
func (e Engine) RespondInvite(ctx context.Context, programID, workerID string, accept bool) (domain.TeamMember, error) {
	m, err := e.Repo.GetTeamMemberByWorker(ctx, programID, workerID)
	if err != nil {
		return domain.TeamMember{}, err
	}
	status := domain.MemberDeclined
	if accept {
		status = domain.MemberAccepted
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RespondTeamMember(ctx, tx, m.ID, status, now)
	if err != nil {
		return m, err
	}
	if !ok {
		return m, StateError{Reason: "invitation is not pending"}
	}
	kind := "team.invite_declined"
	if accept {
		kind = "team.invite_accepted"
	}
	if err := e.Events.Append(ctx, tx, kind, programID, "team_member", m.ID, workerID, nil); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	m.Status = status
	m.RespondedAt = &now
	return m, nil
}

// RemoveMember drops a non-leader member from the team while the program is
// still forming or running.
func (e Engine) RemoveMember(ctx context.Context, programID, workerID, actorID string) error {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if p.Status != domain.StatusTeamFormation && p.Status != domain.StatusInProgress {
		return StateError{Reason: "team can no longer be changed"}
	}
	m, err := e.Repo.GetTeamMemberByWorker(ctx, programID, workerID)
	if err != nil {
		return err
	}
	if m.Role == domain.RoleLeader {
		return ValidationError{Field: "worker_id", Reason: "the leader cannot be removed from the team"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.RemoveTeamMember(ctx, tx, m.ID, e.nowString())
	if err != nil {
		return err
	}
	if !ok {
		return StateError{Reason: "membership is no longer active"}
	}
	if err := e.Events.Append(ctx, tx, "team.member_removed", programID, "team_member", m.ID, actorID, events.EventPayload{"worker_id": workerID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Team returns the current membership roster for a program.
func (e Engine) Team(ctx context.Context, programID string) ([]domain.TeamMember, error) {
	if _, err := e.Repo.GetProgram(ctx, programID); err != nil {
		return nil, err
	}
	return e.Repo.ListTeamMembers(ctx, programID)
}

// ListCandidates returns active workers the leader could still invite:
// eligible for the program and without an existing membership row.
func (e Engine) ListCandidates(ctx context.Context, programID, leaderID string) ([]domain.Worker, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	assignment, err := e.Repo.GetAssignment(ctx, programID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, StateError{Reason: "program has no leader"}
		}
		return nil, err
	}
	if assignment.LeaderID != leaderID {
		return nil, ValidationError{Field: "leader_id", Reason: "only the program leader can list candidates"}
	}
	members, err := e.Repo.ListTeamMembers(ctx, programID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(members))
	for _, m := range members {
		if m.Status != domain.MemberDeclined && m.Status != domain.MemberRemoved {
			taken[m.WorkerID] = true
		}
	}
	workers, err := e.Workers.ListActive(ctx)
	if err != nil {
		return nil, DependencyError{Source: "worker directory", Err: err}
	}
	var out []domain.Worker
	for _, w := range workers {
		if taken[w.ID] {
			continue
		}
		if verdict := eval.Evaluate(w, p); verdict.Eligible {
			out = append(out, w)
		}
	}
	return out, nil
}
