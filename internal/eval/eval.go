// Package eval holds the eligibility and ranking evaluator. Everything in
// here is a pure function of a worker snapshot and a program so the same
// inputs always rank the same way, whether the scheduler or an admin asks.
package eval

import (
	"fmt"
	"math"

	"crewline/internal/domain"
)

// Fixed ranking weights. These are policy constants, not per-program
// configuration.
const (
	tierWeight       = 40.0
	attendanceWeight = 30.0
	onTimeWeight     = 15.0
	safetyWeight     = 15.0
	maxTierPoints    = 50.0
)

var tierPoints = map[domain.Tier]float64{
	domain.TierBronze:   10,
	domain.TierSilver:   20,
	domain.TierGold:     30,
	domain.TierPlatinum: 40,
	domain.TierDiamond:  50,
}

// Verdict is the outcome of an eligibility check plus the audit snapshot
// the check was made against.
type Verdict struct {
	Eligible bool
	Reasons  []string
	Snapshot domain.Snapshot
}

// Evaluate checks a worker against a program's tier and skill requirements
// and captures the point-in-time metrics used for ranking.
func Evaluate(w domain.Worker, p domain.Program) Verdict {
	v := Verdict{
		Snapshot: domain.Snapshot{
			Tier:          w.Tier,
			AttendancePct: w.AttendancePct,
			OnTimePct:     w.OnTimePct,
			SafetyPct:     w.SafetyPct,
		},
	}
	if !w.Active {
		v.Reasons = append(v.Reasons, "worker is inactive")
	}
	if !w.Tier.AtLeast(p.RequiredTier) {
		v.Reasons = append(v.Reasons, fmt.Sprintf("tier %s below required %s", w.Tier, p.RequiredTier))
	}
	for _, skill := range p.RequiredSkills {
		if !hasSkill(w.Skills, skill) {
			v.Reasons = append(v.Reasons, fmt.Sprintf("missing skill %s", skill))
		}
	}
	v.Eligible = len(v.Reasons) == 0
	return v
}

// Score computes the 0-100 ranking score from a snapshot, rounded to two
// decimals.
func Score(s domain.Snapshot) float64 {
	return round2(tierComponent(s.Tier) + attendanceComponent(s.AttendancePct) + onTimeComponent(s.OnTimePct) + safetyComponent(s.SafetyPct))
}

// Breakdown returns the score with its per-factor components, for the
// selection audit record.
func Breakdown(s domain.Snapshot) domain.SelectionBreakdown {
	b := domain.SelectionBreakdown{
		TierPoints:    round2(tierComponent(s.Tier)),
		AttendancePts: round2(attendanceComponent(s.AttendancePct)),
		OnTimePts:     round2(onTimeComponent(s.OnTimePct)),
		SafetyPts:     round2(safetyComponent(s.SafetyPct)),
	}
	b.Score = Score(s)
	return b
}

func tierComponent(t domain.Tier) float64 {
	return tierPoints[t] / maxTierPoints * tierWeight
}

func attendanceComponent(pct float64) float64 {
	return clampPct(pct) / 100 * attendanceWeight
}

func onTimeComponent(pct float64) float64 {
	return clampPct(pct) / 100 * onTimeWeight
}

func safetyComponent(pct float64) float64 {
	return clampPct(pct) / 100 * safetyWeight
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func hasSkill(skills []string, want string) bool {
	for _, s := range skills {
		if s == want {
			return true
		}
	}
	return false
}
