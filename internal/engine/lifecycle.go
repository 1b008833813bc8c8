package engine

import (
	"context"

	"crewline/internal/domain"
	"crewline/internal/events"
)

// StartProgram moves a forming program into execution once the accepted
// roster, leader included, reaches the minimum team size.
func (e Engine) StartProgram(ctx context.Context, programID, actorID string) error {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	accepted, err := e.Repo.CountTeamMembers(ctx, programID, domain.MemberAccepted)
	if err != nil {
		return err
	}
	if accepted < p.TeamMin {
		return StateError{Reason: "team has not reached its minimum size"}
	}
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgram(ctx, tx, programID, domain.StatusTeamFormation, domain.StatusInProgress, now)
	if err != nil {
		return err
	}
	if !ok {
		return StateError{Reason: "program is not in team formation"}
	}
	if err := e.Events.Append(ctx, tx, "program.started", programID, "program", programID, actorID, events.EventPayload{"team_size": accepted}); err != nil {
		return err
	}
	return tx.Commit()
}

// ExpireProgram marks a running program expired when its due date passed
// without a submission.
func (e Engine) ExpireProgram(ctx context.Context, programID, reason, actorID string) error {
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgram(ctx, tx, programID, domain.StatusInProgress, domain.StatusExpired, now)
	if err != nil {
		return err
	}
	if !ok {
		return StateError{Reason: "program cannot expire from its current state"}
	}
	if err := e.Events.Append(ctx, tx, "program.expired", programID, "program", programID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// FailProgram marks a forming program failed when its formation window
// closed below the minimum team size.
func (e Engine) FailProgram(ctx context.Context, programID, reason, actorID string) error {
	now := e.nowString()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionProgram(ctx, tx, programID, domain.StatusTeamFormation, domain.StatusFailed, now)
	if err != nil {
		return err
	}
	if !ok {
		return StateError{Reason: "program cannot fail from its current state"}
	}
	if err := e.Events.Append(ctx, tx, "program.failed", programID, "program", programID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// ProgramDetail bundles everything known about one program.
type ProgramDetail struct {
	Program      domain.Program          `json:"program"`
	Assignment   *domain.Assignment      `json:"assignment,omitempty"`
	Team         []domain.TeamMember     `json:"team,omitempty"`
	Submission   *domain.Submission      `json:"submission,omitempty"`
	Verification *domain.Verification    `json:"verification,omitempty"`
	Incentives   []domain.IncentiveEvent `json:"incentives,omitempty"`
}

// GetProgramDetail assembles the full picture the CLI and API show for a
// single program.
func (e Engine) GetProgramDetail(ctx context.Context, programID string) (ProgramDetail, error) {
	p, err := e.Repo.GetProgram(ctx, programID)
	if err != nil {
		return ProgramDetail{}, err
	}
	d := ProgramDetail{Program: p}
	if a, err := e.Repo.GetAssignment(ctx, programID); err == nil {
		d.Assignment = &a
	}
	if team, err := e.Repo.ListTeamMembers(ctx, programID); err == nil && len(team) > 0 {
		d.Team = team
	}
	if s, err := e.Repo.GetSubmission(ctx, programID); err == nil {
		d.Submission = &s
	}
	if v, err := e.Repo.GetVerification(ctx, programID); err == nil {
		d.Verification = &v
	}
	if inc, err := e.Repo.ListIncentivesBySource(ctx, domain.IncentiveSourceProgram, programID); err == nil && len(inc) > 0 {
		d.Incentives = inc
	}
	return d, nil
}
