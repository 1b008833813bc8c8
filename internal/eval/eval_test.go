package eval

import (
	"testing"

	"crewline/internal/domain"
)

func TestScoreKnownValues(t *testing.T) {
	cases := []struct {
		name string
		snap domain.Snapshot
		want float64
	}{
		{"diamond perfect", domain.Snapshot{Tier: domain.TierDiamond, AttendancePct: 100, OnTimePct: 100, SafetyPct: 100}, 100},
		{"bronze zero", domain.Snapshot{Tier: domain.TierBronze}, 8},
		{"gold mixed", domain.Snapshot{Tier: domain.TierGold, AttendancePct: 90, OnTimePct: 80, SafetyPct: 70}, 73.5},
		{"silver half", domain.Snapshot{Tier: domain.TierSilver, AttendancePct: 50, OnTimePct: 50, SafetyPct: 50}, 46},
	}
	for _, tc := range cases {
		if got := Score(tc.snap); got != tc.want {
			t.Errorf("%s: score %.2f, want %.2f", tc.name, got, tc.want)
		}
	}
}

func TestScoreMonotonicInAttendance(t *testing.T) {
	base := domain.Snapshot{Tier: domain.TierGold, AttendancePct: 0, OnTimePct: 75, SafetyPct: 75}
	prev := Score(base)
	for pct := 1.0; pct <= 100; pct++ {
		base.AttendancePct = pct
		got := Score(base)
		if got < prev {
			t.Fatalf("score decreased at attendance %.0f: %.2f < %.2f", pct, got, prev)
		}
		prev = got
	}
}

func TestScoreClampsOutOfRangeInputs(t *testing.T) {
	over := domain.Snapshot{Tier: domain.TierBronze, AttendancePct: 150, OnTimePct: 100, SafetyPct: 100}
	capped := domain.Snapshot{Tier: domain.TierBronze, AttendancePct: 100, OnTimePct: 100, SafetyPct: 100}
	if Score(over) != Score(capped) {
		t.Fatalf("expected clamped score, got %.2f vs %.2f", Score(over), Score(capped))
	}
	under := domain.Snapshot{Tier: domain.TierBronze, AttendancePct: -10}
	if Score(under) != Score(domain.Snapshot{Tier: domain.TierBronze}) {
		t.Fatalf("expected negative pct clamped to zero")
	}
}

func TestEvaluateTierGate(t *testing.T) {
	p := domain.Program{RequiredTier: domain.TierGold}
	w := domain.Worker{ID: "w1", Tier: domain.TierSilver, Active: true}
	v := Evaluate(w, p)
	if v.Eligible {
		t.Fatalf("silver worker should not pass gold gate")
	}
	w.Tier = domain.TierGold
	if v := Evaluate(w, p); !v.Eligible {
		t.Fatalf("gold worker should pass gold gate: %v", v.Reasons)
	}
	w.Tier = domain.TierDiamond
	if v := Evaluate(w, p); !v.Eligible {
		t.Fatalf("diamond worker should pass gold gate: %v", v.Reasons)
	}
}

func TestEvaluateSkillCoverage(t *testing.T) {
	p := domain.Program{RequiredTier: domain.TierBronze, RequiredSkills: []string{"scaffolding", "welding"}}
	w := domain.Worker{ID: "w1", Tier: domain.TierGold, Active: true, Skills: []string{"scaffolding"}}
	v := Evaluate(w, p)
	if v.Eligible {
		t.Fatalf("worker without welding should be ineligible")
	}
	w.Skills = append(w.Skills, "welding", "rigging")
	if v := Evaluate(w, p); !v.Eligible {
		t.Fatalf("worker with superset of skills should be eligible: %v", v.Reasons)
	}
}

func TestEvaluateInactiveWorker(t *testing.T) {
	p := domain.Program{RequiredTier: domain.TierBronze}
	w := domain.Worker{ID: "w1", Tier: domain.TierDiamond, Active: false}
	if v := Evaluate(w, p); v.Eligible {
		t.Fatalf("inactive worker should be ineligible")
	}
}

func TestEvaluateCapturesSnapshot(t *testing.T) {
	w := domain.Worker{ID: "w1", Tier: domain.TierPlatinum, Active: true, AttendancePct: 91.5, OnTimePct: 88, SafetyPct: 97}
	v := Evaluate(w, domain.Program{RequiredTier: domain.TierBronze})
	if v.Snapshot.Tier != domain.TierPlatinum || v.Snapshot.AttendancePct != 91.5 || v.Snapshot.OnTimePct != 88 || v.Snapshot.SafetyPct != 97 {
		t.Fatalf("snapshot did not capture worker metrics: %+v", v.Snapshot)
	}
}

func TestBreakdownSumsToScore(t *testing.T) {
	s := domain.Snapshot{Tier: domain.TierGold, AttendancePct: 82.3, OnTimePct: 76.9, SafetyPct: 99.1}
	b := Breakdown(s)
	sum := b.TierPoints + b.AttendancePts + b.OnTimePts + b.SafetyPts
	if diff := b.Score - sum; diff > 0.03 || diff < -0.03 {
		t.Fatalf("breakdown components %.2f do not sum to score %.2f", sum, b.Score)
	}
}
