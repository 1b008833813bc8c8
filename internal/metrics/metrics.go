package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SchedulerPasses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_scheduler_passes_total", Help: "Total scheduler passes executed"},
	)
	SchedulerErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_scheduler_errors_total", Help: "Total per-program scheduler failures"},
	)
	LeadersSelected = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_leaders_selected_total", Help: "Total automatic leader selections"},
	)
	ProgramsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_programs_expired_total", Help: "Total programs expired by the scheduler"},
	)
	ProgramsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_programs_failed_total", Help: "Total programs failed for lack of a team"},
	)
	ProgramsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_programs_started_total", Help: "Total programs moved into execution by the scheduler"},
	)
	IncentivesPosted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_incentives_posted_total", Help: "Total incentive events posted"},
	)
	RemindersSent = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "crewline_reminders_sent_total", Help: "Total due-date reminders sent to leaders"},
	)
)

func Register() {
	prometheus.MustRegister(SchedulerPasses, SchedulerErrors, LeadersSelected, ProgramsExpired, ProgramsFailed, ProgramsStarted, IncentivesPosted, RemindersSent)
}
