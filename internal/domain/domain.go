package domain

// ProgramStatus is the closed set of lifecycle states for a Program.
type ProgramStatus string

const (
	StatusDraft            ProgramStatus = "draft"
	StatusPublished        ProgramStatus = "published"
	StatusSelectionRunning ProgramStatus = "selection_running"
	StatusLeaderSelected   ProgramStatus = "leader_selected"
	StatusTeamFormation    ProgramStatus = "team_formation"
	StatusInProgress       ProgramStatus = "in_progress"
	StatusSubmitted        ProgramStatus = "submitted"
	StatusVerified         ProgramStatus = "verified"
	StatusApproved         ProgramStatus = "approved"
	StatusRejected         ProgramStatus = "rejected"
	StatusFailed           ProgramStatus = "failed"
	StatusExpired          ProgramStatus = "expired"
	StatusArchived         ProgramStatus = "archived"
)

// Terminal reports whether no further transition may leave the status.
func (s ProgramStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusFailed, StatusExpired, StatusArchived:
		return true
	}
	return false
}

func (s ProgramStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusSelectionRunning, StatusLeaderSelected,
		StatusTeamFormation, StatusInProgress, StatusSubmitted, StatusVerified,
		StatusApproved, StatusRejected, StatusFailed, StatusExpired, StatusArchived:
		return true
	}
	return false
}

// Tier is the ordered worker career ranking gating program eligibility.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
	TierDiamond  Tier = "diamond"
)

var tierOrder = map[Tier]int{
	TierBronze:   1,
	TierSilver:   2,
	TierGold:     3,
	TierPlatinum: 4,
	TierDiamond:  5,
}

func (t Tier) Valid() bool {
	_, ok := tierOrder[t]
	return ok
}

// AtLeast reports whether t ranks at or above the required tier.
func (t Tier) AtLeast(required Tier) bool {
	return tierOrder[t] >= tierOrder[required]
}

type ApplicationStatus string

const (
	ApplicationApplied  ApplicationStatus = "applied"
	ApplicationSelected ApplicationStatus = "selected"
	ApplicationRejected ApplicationStatus = "rejected"
)

type TeamRole string

const (
	RoleLeader TeamRole = "leader"
	RoleMember TeamRole = "member"
)

type TeamMemberStatus string

const (
	MemberInvited  TeamMemberStatus = "invited"
	MemberAccepted TeamMemberStatus = "accepted"
	MemberDeclined TeamMemberStatus = "declined"
	MemberRemoved  TeamMemberStatus = "removed"
)

type VerificationDecision string

const (
	DecisionPending VerificationDecision = "pending"
	DecisionPass    VerificationDecision = "pass"
	DecisionFail    VerificationDecision = "fail"
)

type DayOutcome string

const (
	DayPresent DayOutcome = "present"
	DayAbsent  DayOutcome = "absent"
	DayLate    DayOutcome = "late"
	DayLeave   DayOutcome = "leave"
)

// IncentiveKind distinguishes the one-time bonus rows a program can post.
type IncentiveKind string

const (
	KindLeaderBonus IncentiveKind = "leader_bonus"
	KindMemberBonus IncentiveKind = "member_bonus"
)

// IncentiveSourceProgram keys incentive events created by program approval.
const IncentiveSourceProgram = "leadership_program"

type Program struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description,omitempty"`
	Difficulty         string        `json:"difficulty,omitempty"`
	RequiredTier       Tier          `json:"required_tier" enum:"bronze,silver,gold,platinum,diamond"`
	RequiredSkills     []string      `json:"required_skills,omitempty"`
	TeamMin            int           `json:"team_min"`
	TeamMax            int           `json:"team_max"`
	LeaderBonus        int64         `json:"leader_bonus"`
	MemberBonus        int64         `json:"member_bonus"`
	ApplicationCloseAt string        `json:"application_close_at,omitempty" format:"date-time"`
	TeamFormationClose string        `json:"team_formation_close_at,omitempty" format:"date-time"`
	StartAt            string        `json:"start_at,omitempty" format:"date-time"`
	DueAt              string        `json:"due_at,omitempty" format:"date-time"`
	Status             ProgramStatus `json:"status"`
	CreatedAt          string        `json:"created_at" format:"date-time"`
	UpdatedAt          string        `json:"updated_at" format:"date-time"`
}

// Snapshot is a point-in-time read of the worker metrics used for
// eligibility audit and ranking.
type Snapshot struct {
	Tier          Tier    `json:"tier"`
	AttendancePct float64 `json:"attendance_pct"`
	OnTimePct     float64 `json:"on_time_pct"`
	SafetyPct     float64 `json:"safety_pct"`
}

type Application struct {
	ID                string            `json:"id"`
	ProgramID         string            `json:"program_id"`
	WorkerID          string            `json:"worker_id"`
	Status            ApplicationStatus `json:"status" enum:"applied,selected,rejected"`
	RankingScore      *float64          `json:"ranking_score,omitempty"`
	RejectionReason   string            `json:"rejection_reason,omitempty"`
	PreferredTeamSize *int              `json:"preferred_team_size,omitempty"`
	MemberWorkerIDs   []string          `json:"member_worker_ids,omitempty"`
	Snapshot          Snapshot          `json:"snapshot"`
	AppliedAt         string            `json:"applied_at" format:"date-time"`
}

// Assignment records the one worker selected to lead a program. Its
// creation is the irreversible "leader chosen" event.
type Assignment struct {
	ProgramID  string             `json:"program_id"`
	LeaderID   string             `json:"leader_id"`
	Breakdown  SelectionBreakdown `json:"breakdown"`
	SelectedBy string             `json:"selected_by"`
	SelectedAt string             `json:"selected_at" format:"date-time"`
}

type SelectionBreakdown struct {
	Score          float64 `json:"score"`
	TierPoints     float64 `json:"tier_points"`
	AttendancePts  float64 `json:"attendance_points"`
	OnTimePts      float64 `json:"on_time_points"`
	SafetyPts      float64 `json:"safety_points"`
	ApplicantCount int     `json:"applicant_count"`
}

type TeamMember struct {
	ID          string           `json:"id"`
	ProgramID   string           `json:"program_id"`
	WorkerID    string           `json:"worker_id"`
	Role        TeamRole         `json:"role" enum:"leader,member"`
	Status      TeamMemberStatus `json:"status" enum:"invited,accepted,declined,removed"`
	InvitedBy   string           `json:"invited_by,omitempty"`
	InvitedAt   string           `json:"invited_at" format:"date-time"`
	RespondedAt *string          `json:"responded_at,omitempty" format:"date-time"`
}

type Submission struct {
	ProgramID   string         `json:"program_id"`
	Checklist   map[string]any `json:"checklist,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	SubmittedBy string         `json:"submitted_by"`
	SubmittedAt string         `json:"submitted_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

type Verification struct {
	ProgramID  string               `json:"program_id"`
	Decision   VerificationDecision `json:"decision" enum:"pending,pass,fail"`
	QCScores   map[string]float64   `json:"qc_scores,omitempty"`
	Notes      string               `json:"notes,omitempty"`
	VerifiedBy string               `json:"verified_by"`
	VerifiedAt string               `json:"verified_at" format:"date-time"`
}

type IncentiveEvent struct {
	ID               string        `json:"id"`
	WorkerID         string        `json:"worker_id"`
	Source           string        `json:"source"`
	SourceID         string        `json:"source_id"`
	Kind             IncentiveKind `json:"kind" enum:"leader_bonus,member_bonus"`
	Amount           int64         `json:"amount"`
	EffectiveDateKey string        `json:"effective_date_key"`
	Status           string        `json:"status"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
}

// ParticipationPolicy is the global payout eligibility rule. Singleton,
// read-only at payout time.
type ParticipationPolicy struct {
	MinDaysParticipation  int    `json:"min_days_participation"`
	EnforceNoOverlap      bool   `json:"enforce_no_overlap"`
	MaxConcurrentPrograms int    `json:"max_concurrent_programs"`
	UpdatedAt             string `json:"updated_at" format:"date-time"`
}

type Worker struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Tier          Tier     `json:"tier" enum:"bronze,silver,gold,platinum,diamond"`
	Skills        []string `json:"skills,omitempty"`
	Active        bool     `json:"active"`
	AttendancePct float64  `json:"attendance_pct"`
	OnTimePct     float64  `json:"on_time_pct"`
	SafetyPct     float64  `json:"safety_pct"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
}

// WorkDay is one attendance record consumed from the attendance
// collaborator. Only locked non-absent days count towards the
// participation gate.
type WorkDay struct {
	WorkerID string     `json:"worker_id"`
	Day      string     `json:"day"`
	Locked   bool       `json:"locked"`
	Outcome  DayOutcome `json:"outcome" enum:"present,absent,late,leave"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string   `json:"id"`
	ActorID   string   `json:"actor_id"`
	Roles     []string `json:"roles,omitempty"`
	Name      string   `json:"name,omitempty"`
	KeyHash   string   `json:"key_hash"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}
