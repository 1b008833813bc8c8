package server

import (
	"crewline/internal/domain"
	"crewline/internal/engine"
)

type ProgramRequest struct {
	Title                string   `json:"title,omitempty"`
	Description          string   `json:"description,omitempty"`
	Difficulty           string   `json:"difficulty,omitempty"`
	RequiredTier         string   `json:"required_tier,omitempty" enum:"bronze,silver,gold,platinum,diamond,"`
	RequiredSkills       []string `json:"required_skills,omitempty"`
	TeamMin              int      `json:"team_min,omitempty"`
	TeamMax              int      `json:"team_max,omitempty"`
	LeaderBonus          int64    `json:"leader_bonus,omitempty"`
	MemberBonus          int64    `json:"member_bonus,omitempty"`
	ApplicationCloseAt   string   `json:"application_close_at,omitempty" format:"date-time"`
	TeamFormationCloseAt string   `json:"team_formation_close_at,omitempty" format:"date-time"`
	StartAt              string   `json:"start_at,omitempty" format:"date-time"`
	DueAt                string   `json:"due_at,omitempty" format:"date-time"`
}

func (r ProgramRequest) toOptions(id, actorID string) engine.ProgramOptions {
	return engine.ProgramOptions{
		ID:                 id,
		Title:              r.Title,
		Description:        r.Description,
		Difficulty:         r.Difficulty,
		RequiredTier:       domain.Tier(r.RequiredTier),
		RequiredSkills:     r.RequiredSkills,
		TeamMin:            r.TeamMin,
		TeamMax:            r.TeamMax,
		LeaderBonus:        r.LeaderBonus,
		MemberBonus:        r.MemberBonus,
		ApplicationCloseAt: r.ApplicationCloseAt,
		TeamFormationClose: r.TeamFormationCloseAt,
		StartAt:            r.StartAt,
		DueAt:              r.DueAt,
		ActorID:            actorID,
	}
}

type ApplyRequest struct {
	PreferredTeamSize *int     `json:"preferred_team_size,omitempty"`
	MemberWorkerIDs   []string `json:"member_worker_ids,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type InviteRequest struct {
	WorkerID string `json:"worker_id"`
}

type RespondInviteRequest struct {
	Accept bool `json:"accept"`
}

type SubmitRequest struct {
	Checklist map[string]any `json:"checklist,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Evidence  map[string]any `json:"evidence,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type VerifyRequest struct {
	Decision string             `json:"decision" enum:"pass,fail"`
	QCScores map[string]float64 `json:"qc_scores,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Notes    string             `json:"notes,omitempty"`
}

type WorkerRequest struct {
	Name          string   `json:"name"`
	Tier          string   `json:"tier" enum:"bronze,silver,gold,platinum,diamond"`
	Skills        []string `json:"skills,omitempty"`
	Active        *bool    `json:"active,omitempty"`
	AttendancePct float64  `json:"attendance_pct"`
	OnTimePct     float64  `json:"on_time_pct"`
	SafetyPct     float64  `json:"safety_pct"`
}

type WorkDayEntry struct {
	Day     string `json:"day" example:"2024-05-02"`
	Locked  bool   `json:"locked"`
	Outcome string `json:"outcome" enum:"present,absent,late,leave"`
}

type WorkDaysRequest struct {
	Days []WorkDayEntry `json:"days"`
}

type PolicyRequest struct {
	MinDaysParticipation  int  `json:"min_days_participation"`
	EnforceNoOverlap      bool `json:"enforce_no_overlap"`
	MaxConcurrentPrograms int  `json:"max_concurrent_programs"`
}

type APIKeyCreateRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Name    string   `json:"name,omitempty"`
}

type APIKeyCreateResponse struct {
	ID      string   `json:"id"`
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
	Key     string   `json:"key"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}
