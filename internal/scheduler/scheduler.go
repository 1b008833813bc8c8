package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/events"
	"crewline/internal/metrics"
)

// Scheduler drives time-based program transitions. It holds no state of its
// own: every pass re-derives the work from program rows, so a crashed or
// repeated pass converges to the same result.
type Scheduler struct {
	Engine engine.Engine
	Now    func() time.Time
}

func New(eng engine.Engine) *Scheduler {
	return &Scheduler{Engine: eng, Now: eng.Now}
}

const actorID = "scheduler"

// PassStats summarizes one RunOnce call.
type PassStats struct {
	Scanned         int `json:"scanned"`
	LeadersSelected int `json:"leaders_selected"`
	NoApplicants    int `json:"no_applicants"`
	Started         int `json:"started"`
	Failed          int `json:"failed"`
	Expired         int `json:"expired"`
	Reminders       int `json:"reminders"`
	Errors          int `json:"errors"`
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RunOnce executes a single scheduling pass. Failures on one program are
// logged and counted; the pass always visits every program.
func (s *Scheduler) RunOnce(ctx context.Context) PassStats {
	var stats PassStats
	now := s.now().UTC()
	metrics.SchedulerPasses.Inc()

	s.closeApplications(ctx, now, &stats)
	s.driveTeamFormation(ctx, now, &stats)
	s.expireOverdue(ctx, now, &stats)
	s.sendReminders(ctx, now, &stats)
	return stats
}

// closeApplications runs leader selection for published programs whose
// application window has closed.
func (s *Scheduler) closeApplications(ctx context.Context, now time.Time, stats *PassStats) {
	programs, err := s.Engine.Repo.ListProgramsByStatus(ctx, domain.StatusPublished)
	if err != nil {
		s.fail(stats, "list published: %v", err)
		return
	}
	for _, p := range programs {
		stats.Scanned++
		if !due(p.ApplicationCloseAt, now) {
			continue
		}
		out, err := s.Engine.SelectLeader(ctx, p.ID, actorID)
		if err != nil {
			s.fail(stats, "select leader for %s: %v", p.ID, err)
			continue
		}
		switch {
		case out.NoApplicants:
			stats.NoApplicants++
		case out.AlreadySelected:
			// another pass or an admin got there first
		default:
			stats.LeadersSelected++
			metrics.LeadersSelected.Inc()
		}
	}
}

// driveTeamFormation starts programs whose team reached the minimum and
// expires those whose formation window closed short of it.
func (s *Scheduler) driveTeamFormation(ctx context.Context, now time.Time, stats *PassStats) {
	programs, err := s.Engine.Repo.ListProgramsByStatus(ctx, domain.StatusTeamFormation)
	if err != nil {
		s.fail(stats, "list team_formation: %v", err)
		return
	}
	for _, p := range programs {
		stats.Scanned++
		accepted, err := s.Engine.Repo.CountTeamMembers(ctx, p.ID, domain.MemberAccepted)
		if err != nil {
			s.fail(stats, "count team for %s: %v", p.ID, err)
			continue
		}
		if accepted >= p.TeamMin {
			if err := s.Engine.StartProgram(ctx, p.ID, actorID); err != nil {
				s.fail(stats, "start %s: %v", p.ID, err)
				continue
			}
			stats.Started++
			metrics.ProgramsStarted.Inc()
			continue
		}
		if due(p.TeamFormationClose, now) {
			if err := s.Engine.FailProgram(ctx, p.ID, "team formation window closed below minimum size", actorID); err != nil {
				s.fail(stats, "fail %s: %v", p.ID, err)
				continue
			}
			stats.Failed++
			metrics.ProgramsFailed.Inc()
		}
	}
}

// expireOverdue expires running programs whose due date passed without a
// submission.
func (s *Scheduler) expireOverdue(ctx context.Context, now time.Time, stats *PassStats) {
	programs, err := s.Engine.Repo.ListProgramsByStatus(ctx, domain.StatusInProgress)
	if err != nil {
		s.fail(stats, "list in_progress: %v", err)
		return
	}
	for _, p := range programs {
		stats.Scanned++
		if !due(p.DueAt, now) {
			continue
		}
		if err := s.Engine.ExpireProgram(ctx, p.ID, "due date passed without submission", actorID); err != nil {
			s.fail(stats, "expire %s: %v", p.ID, err)
			continue
		}
		stats.Expired++
		metrics.ProgramsExpired.Inc()
	}
}

// sendReminders nudges leaders of running programs approaching the due
// date. The audit event doubles as the once-only guard.
func (s *Scheduler) sendReminders(ctx context.Context, now time.Time, stats *PassStats) {
	hours := 24
	if s.Engine.Config != nil {
		hours = s.Engine.Config.Scheduler.ReminderHoursBefore
	}
	if hours <= 0 {
		return
	}
	programs, err := s.Engine.Repo.ListProgramsByStatus(ctx, domain.StatusInProgress)
	if err != nil {
		s.fail(stats, "list in_progress for reminders: %v", err)
		return
	}
	for _, p := range programs {
		if p.DueAt == "" {
			continue
		}
		dueAt, err := time.Parse(time.RFC3339, p.DueAt)
		if err != nil || now.After(dueAt) || dueAt.Sub(now) > time.Duration(hours)*time.Hour {
			continue
		}
		sent, err := s.Engine.Repo.HasEvent(ctx, "reminder.due_soon", "program", p.ID)
		if err != nil {
			s.fail(stats, "check reminder for %s: %v", p.ID, err)
			continue
		}
		if sent {
			continue
		}
		assignment, err := s.Engine.Repo.GetAssignment(ctx, p.ID)
		if err != nil {
			s.fail(stats, "assignment for %s: %v", p.ID, err)
			continue
		}
		if err := s.recordReminder(ctx, p.ID); err != nil {
			s.fail(stats, "record reminder for %s: %v", p.ID, err)
			continue
		}
		s.Engine.Notifier.Notify(ctx, assignment.LeaderID, "due_soon",
			fmt.Sprintf("Program %s is due at %s", p.Title, p.DueAt))
		stats.Reminders++
		metrics.RemindersSent.Inc()
	}
}

func (s *Scheduler) recordReminder(ctx context.Context, programID string) error {
	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.Engine.Events.Append(ctx, tx, "reminder.due_soon", programID, "program", programID, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Scheduler) fail(stats *PassStats, format string, args ...any) {
	stats.Errors++
	metrics.SchedulerErrors.Inc()
	log.Printf("scheduler: "+format, args...)
}

// due reports whether the RFC3339 deadline exists and has passed.
func due(deadline string, now time.Time) bool {
	if deadline == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		return false
	}
	return !now.Before(t)
}

// Run executes passes on the configured interval until the context ends.
func (s *Scheduler) Run(ctx context.Context) {
	interval := 5 * time.Minute
	if s.Engine.Config != nil && s.Engine.Config.Scheduler.IntervalMinutes > 0 {
		interval = time.Duration(s.Engine.Config.Scheduler.IntervalMinutes) * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats := s.RunOnce(ctx)
		log.Printf("scheduler: pass done scanned=%d selected=%d started=%d failed=%d expired=%d reminders=%d errors=%d",
			stats.Scanned, stats.LeadersSelected, stats.Started, stats.Failed, stats.Expired, stats.Reminders, stats.Errors)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
