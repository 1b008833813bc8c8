package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crewline/internal/app"
	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/metrics"
	"crewline/internal/repo"
	"crewline/internal/scheduler"
	"crewline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cw",
	Short: "Crewline CLI",
	Long: `Crewline coordinates leadership programs for field crews.
Core concepts:
- Workspace: your .crewline directory holding the database; crewline.yml configures policy and the scheduler.
- Program: a published opportunity that workers apply to lead; statuses go draft -> published -> team_formation -> in_progress -> submitted -> verified -> approved (failed/rejected/expired are exits).
- Application: a worker's bid to lead, scored from tier, attendance, punctuality, and safety.
- Selection: the top-ranked applicant becomes the leader exactly once; everyone else is rejected with a reason.
- Team: the leader invites eligible workers up to the program's size; invitees accept or decline.
- Payout: after supervisor verification, members who worked enough days inside the window get their bonus posted exactly once.
- Scheduler: 'cw scheduler run' drives deadlines (close applications, expire, remind); safe to run from cron.
- Event log: diary of changes, view with 'cw log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(attendanceCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func programCmd() *cobra.Command {
	prg := &cobra.Command{Use: "program", Short: "Manage leadership programs"}
	prg.AddCommand(programCreateCmd())
	prg.AddCommand(programListCmd())
	prg.AddCommand(programShowCmd())
	prg.AddCommand(programUpdateCmd())
	prg.AddCommand(programPublishCmd())
	prg.AddCommand(programArchiveCmd())
	prg.AddCommand(programStartCmd())
	prg.AddCommand(programExpireCmd())
	prg.AddCommand(programSelectLeaderCmd())
	return prg
}

func programOptionFlags(cmd *cobra.Command, opts *programFlagSet) {
	cmd.Flags().StringVar(&opts.title, "title", "", "program title")
	cmd.Flags().StringVar(&opts.description, "description", "", "description")
	cmd.Flags().StringVar(&opts.difficulty, "difficulty", "", "difficulty label")
	cmd.Flags().StringVar(&opts.tier, "tier", "", "minimum tier (bronze/silver/gold/platinum/diamond)")
	cmd.Flags().StringSliceVar(&opts.skills, "skills", nil, "required skills")
	cmd.Flags().IntVar(&opts.teamMin, "team-min", 0, "minimum team size (leader included)")
	cmd.Flags().IntVar(&opts.teamMax, "team-max", 0, "maximum team size (leader included)")
	cmd.Flags().Int64Var(&opts.leaderBonus, "leader-bonus", 0, "leader incentive amount")
	cmd.Flags().Int64Var(&opts.memberBonus, "member-bonus", 0, "member incentive amount")
	cmd.Flags().StringVar(&opts.closeAt, "close-at", "", "application close (RFC3339)")
	cmd.Flags().StringVar(&opts.formationCloseAt, "formation-close-at", "", "team formation deadline (RFC3339)")
	cmd.Flags().StringVar(&opts.startAt, "start-at", "", "execution start (RFC3339)")
	cmd.Flags().StringVar(&opts.dueAt, "due-at", "", "submission deadline (RFC3339)")
}

type programFlagSet struct {
	title            string
	description      string
	difficulty       string
	tier             string
	skills           []string
	teamMin          int
	teamMax          int
	leaderBonus      int64
	memberBonus      int64
	closeAt          string
	formationCloseAt string
	startAt          string
	dueAt            string
}

func (f programFlagSet) options(id string) engine.ProgramOptions {
	return engine.ProgramOptions{
		ID:                 id,
		Title:              f.title,
		Description:        f.description,
		Difficulty:         f.difficulty,
		RequiredTier:       domain.Tier(f.tier),
		RequiredSkills:     f.skills,
		TeamMin:            f.teamMin,
		TeamMax:            f.teamMax,
		LeaderBonus:        f.leaderBonus,
		MemberBonus:        f.memberBonus,
		ApplicationCloseAt: f.closeAt,
		TeamFormationClose: f.formationCloseAt,
		StartAt:            f.startAt,
		DueAt:              f.dueAt,
		ActorID:            viper.GetString("actor-id"),
	}
}

func programCreateCmd() *cobra.Command {
	var flags programFlagSet
	var id string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft program",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.title == "" {
				return fmt.Errorf("--title required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.CreateProgram(ctx, flags.options(id))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "program id (generated when empty)")
	programOptionFlags(cmd, &flags)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func programListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.Repo.ListPrograms(ctx, repo.ProgramFilters{
					Status: domain.ProgramStatus(status),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Tier", "Team", "Due"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, p.RequiredTier, fmt.Sprintf("%d-%d", p.TeamMin, p.TeamMax), p.DueAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func programShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <program-id>",
		Short: "Show a program with its team, submission, and incentives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				detail, err := env.Engine.GetProgramDetail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(detail)
			})
		},
	}
	return cmd
}

func programUpdateCmd() *cobra.Command {
	var flags programFlagSet
	cmd := &cobra.Command{
		Use:   "update <program-id>",
		Short: "Update a draft program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.UpdateProgram(ctx, flags.options(args[0]))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	programOptionFlags(cmd, &flags)
	return cmd
}

func programPublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <program-id>",
		Short: "Open a draft program for applications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.PublishProgram(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func programArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <program-id>",
		Short: "Archive a terminal program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.ArchiveProgram(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func programStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <program-id>",
		Short: "Move a formed program into execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.StartProgram(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("program started")
				return nil
			})
		},
	}
	return cmd
}

func programExpireCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "expire <program-id>",
		Short: "Expire a stalled program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.ExpireProgram(ctx, args[0], reason, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("program expired")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "expired by operator", "expiry reason")
	return cmd
}

func programSelectLeaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select-leader <program-id>",
		Short: "Run leader selection over the applied applications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				out, err := env.Engine.SelectLeader(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func applyCmd() *cobra.Command {
	var workerID string
	var size int
	var members []string
	cmd := &cobra.Command{
		Use:   "apply <program-id>",
		Short: "Apply to lead a published program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerID == "" {
				workerID = viper.GetString("actor-id")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				opts := engine.ApplyOptions{
					ProgramID:       args[0],
					WorkerID:        workerID,
					MemberWorkerIDs: members,
				}
				if cmd.Flags().Changed("size") {
					opts.PreferredTeamSize = &size
				}
				a, err := env.Engine.Apply(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "applicant worker id (defaults to --actor-id)")
	cmd.Flags().IntVar(&size, "size", 0, "preferred team size, leader included")
	cmd.Flags().StringSliceVar(&members, "members", nil, "preferred member worker ids")
	return cmd
}

func applicationCmd() *cobra.Command {
	apps := &cobra.Command{Use: "application", Short: "Review leadership applications"}
	apps.AddCommand(applicationListCmd())
	apps.AddCommand(applicationApproveCmd())
	apps.AddCommand(applicationRejectCmd())
	return apps
}

func applicationListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list <program-id>",
		Short: "List applications for a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.Repo.ListApplications(ctx, args[0], domain.ApplicationStatus(status))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Worker", "Status", "Score", "Applied"})
				for _, a := range items {
					score := ""
					if a.RankingScore != nil {
						score = fmt.Sprintf("%.2f", *a.RankingScore)
					}
					tw.AppendRow(table.Row{a.ID, a.WorkerID, a.Status, score, a.AppliedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func applicationApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <application-id>",
		Short: "Approve an application as the leader, overriding ranking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				asn, err := env.Engine.AdminApproveApplication(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(asn)
			})
		},
	}
	return cmd
}

func applicationRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <application-id>",
		Short: "Reject an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.AdminRejectApplication(ctx, args[0], reason, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("application rejected")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage program teams"}
	team.AddCommand(teamShowCmd())
	team.AddCommand(teamInviteCmd())
	team.AddCommand(teamRespondCmd())
	team.AddCommand(teamRemoveCmd())
	team.AddCommand(teamCandidatesCmd())
	return team
}

func teamShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <program-id>",
		Short: "Show team members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				members, err := env.Engine.Team(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Worker", "Role", "Status", "Invited By", "Invited At"})
				for _, m := range members {
					tw.AppendRow(table.Row{m.WorkerID, m.Role, m.Status, m.InvitedBy, m.InvitedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func teamInviteCmd() *cobra.Command {
	var leaderID string
	cmd := &cobra.Command{
		Use:   "invite <program-id> <worker-id>",
		Short: "Invite a worker onto the team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if leaderID == "" {
				leaderID = viper.GetString("actor-id")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				m, err := env.Engine.InviteMember(ctx, args[0], leaderID, args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&leaderID, "leader", "", "inviting leader id (defaults to --actor-id)")
	return cmd
}

func teamRespondCmd() *cobra.Command {
	var workerID string
	var decline bool
	cmd := &cobra.Command{
		Use:   "respond <program-id>",
		Short: "Accept or decline a team invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workerID == "" {
				workerID = viper.GetString("actor-id")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				m, err := env.Engine.RespondInvite(ctx, args[0], workerID, !decline)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "responding worker id (defaults to --actor-id)")
	cmd.Flags().BoolVar(&decline, "decline", false, "decline instead of accept")
	return cmd
}

func teamRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <program-id> <worker-id>",
		Short: "Remove a member from the team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.RemoveMember(ctx, args[0], args[1], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("member removed")
				return nil
			})
		},
	}
	return cmd
}

func teamCandidatesCmd() *cobra.Command {
	var leaderID string
	cmd := &cobra.Command{
		Use:   "candidates <program-id>",
		Short: "List workers eligible for an invite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if leaderID == "" {
				leaderID = viper.GetString("actor-id")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				workers, err := env.Engine.ListCandidates(ctx, args[0], leaderID)
				if err != nil {
					return err
				}
				return printWorkers(workers)
			})
		},
	}
	cmd.Flags().StringVar(&leaderID, "leader", "", "requesting leader id (defaults to --actor-id)")
	return cmd
}

func submitCmd() *cobra.Command {
	var leaderID, checklistJSON, evidenceJSON string
	cmd := &cobra.Command{
		Use:   "submit <program-id>",
		Short: "Submit program completion as the leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if leaderID == "" {
				leaderID = viper.GetString("actor-id")
			}
			checklist, err := parseJSONMap("checklist", checklistJSON)
			if err != nil {
				return err
			}
			evidence, err := parseJSONMap("evidence", evidenceJSON)
			if err != nil {
				return err
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				s, err := env.Engine.SubmitCompletion(ctx, args[0], leaderID, checklist, evidence)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&leaderID, "leader", "", "submitting leader id (defaults to --actor-id)")
	cmd.Flags().StringVar(&checklistJSON, "checklist", "", "checklist as a JSON object")
	cmd.Flags().StringVar(&evidenceJSON, "evidence", "", "evidence as a JSON object")
	return cmd
}

func verifyCmd() *cobra.Command {
	var decision, notes, scoresJSON string
	cmd := &cobra.Command{
		Use:   "verify <program-id>",
		Short: "Record the supervisor verification verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var scores map[string]float64
			if scoresJSON != "" {
				if err := json.Unmarshal([]byte(scoresJSON), &scores); err != nil {
					return fmt.Errorf("invalid --scores: %w", err)
				}
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				v, err := env.Engine.SupervisorVerify(ctx, args[0], viper.GetString("actor-id"), domain.VerificationDecision(decision), scores, notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "", "pass or fail")
	cmd.Flags().StringVar(&notes, "notes", "", "verification notes")
	cmd.Flags().StringVar(&scoresJSON, "scores", "", "QC scores as a JSON object")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout <program-id>",
		Short: "Approve a verified program and post incentives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				out, err := env.Engine.ApproveAndPostPayout(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				if out.AlreadyApproved {
					fmt.Println("program already approved")
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Worker", "Role", "Kind", "Amount", "Days", "Posted", "Skipped"})
				for _, r := range out.Results {
					tw.AppendRow(table.Row{r.WorkerID, r.Role, r.Kind, r.Amount, r.WorkedDays, r.Posted, r.SkippedReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func workerCmd() *cobra.Command {
	wrk := &cobra.Command{Use: "worker", Short: "Manage the worker directory"}
	wrk.AddCommand(workerAddCmd())
	wrk.AddCommand(workerListCmd())
	wrk.AddCommand(workerShowCmd())
	return wrk
}

func workerAddCmd() *cobra.Command {
	var name, tier string
	var skills []string
	var inactive bool
	var attendance, onTime, safety float64
	cmd := &cobra.Command{
		Use:   "add <worker-id>",
		Short: "Create or update a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				w := domain.Worker{
					ID:            args[0],
					Name:          name,
					Tier:          domain.Tier(tier),
					Skills:        skills,
					Active:        !inactive,
					AttendancePct: attendance,
					OnTimePct:     onTime,
					SafetyPct:     safety,
					CreatedAt:     time.Now().UTC().Format(time.RFC3339),
				}
				if existing, err := env.Engine.Repo.GetWorker(ctx, args[0]); err == nil {
					w.CreatedAt = existing.CreatedAt
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				if err := env.Engine.Repo.UpsertWorker(ctx, w); err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&tier, "tier", "bronze", "worker tier")
	cmd.Flags().StringSliceVar(&skills, "skills", nil, "skills")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "mark the worker inactive")
	cmd.Flags().Float64Var(&attendance, "attendance", 0, "attendance percentage")
	cmd.Flags().Float64Var(&onTime, "on-time", 0, "punctuality percentage")
	cmd.Flags().Float64Var(&safety, "safety", 0, "safety percentage")
	return cmd
}

func workerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				workers, err := env.Engine.Repo.ListActiveWorkers(ctx)
				if err != nil {
					return err
				}
				return printWorkers(workers)
			})
		},
	}
	return cmd
}

func workerShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <worker-id>",
		Short: "Show a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				w, err := env.Engine.Repo.GetWorker(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func attendanceCmd() *cobra.Command {
	att := &cobra.Command{Use: "attendance", Short: "Record attendance days"}
	att.AddCommand(attendanceRecordCmd())
	return att
}

func attendanceRecordCmd() *cobra.Command {
	var day, outcome string
	var unlocked bool
	cmd := &cobra.Command{
		Use:   "record <worker-id>",
		Short: "Record one attendance day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if day == "" {
				day = time.Now().UTC().Format("2006-01-02")
			}
			if _, err := time.Parse("2006-01-02", day); err != nil {
				return fmt.Errorf("--day must be YYYY-MM-DD")
			}
			switch domain.DayOutcome(outcome) {
			case domain.DayPresent, domain.DayAbsent, domain.DayLate, domain.DayLeave:
			default:
				return fmt.Errorf("--outcome must be present, absent, late, or leave")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				d := domain.WorkDay{
					WorkerID: args[0],
					Day:      day,
					Locked:   !unlocked,
					Outcome:  domain.DayOutcome(outcome),
				}
				if err := env.Engine.Repo.UpsertWorkDay(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "day (YYYY-MM-DD, defaults to today)")
	cmd.Flags().StringVar(&outcome, "outcome", "present", "present, absent, late, or leave")
	cmd.Flags().BoolVar(&unlocked, "unlocked", false, "record as unlocked (not yet payable)")
	return cmd
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Participation policy"}
	pol.AddCommand(policyShowCmd())
	pol.AddCommand(policySetCmd())
	return pol
}

func policyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the participation policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.Repo.GetParticipationPolicy(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func policySetCmd() *cobra.Command {
	var minDays, maxConcurrent int
	var allowOverlap bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update the participation policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.Repo.GetParticipationPolicy(ctx)
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				if cmd.Flags().Changed("min-days") {
					p.MinDaysParticipation = minDays
				}
				if cmd.Flags().Changed("max-concurrent") {
					p.MaxConcurrentPrograms = maxConcurrent
				}
				if cmd.Flags().Changed("allow-overlap") {
					p.EnforceNoOverlap = !allowOverlap
				}
				p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := env.Engine.Repo.UpsertParticipationPolicy(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&minDays, "min-days", 0, "minimum locked worked days for payout eligibility")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "maximum concurrent program memberships")
	cmd.Flags().BoolVar(&allowOverlap, "allow-overlap", false, "allow overlapping memberships")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: program transitions, applications, invites, payouts.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var programID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				events, err := env.Engine.Repo.LatestEvents(ctx, n, programID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&programID, "program", "", "program id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func schedulerCmd() *cobra.Command {
	sch := &cobra.Command{Use: "scheduler", Short: "Deadline scheduler"}
	sch.AddCommand(schedulerRunCmd())
	sch.AddCommand(schedulerStartCmd())
	return sch
}

func schedulerRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduler pass and exit (cron friendly)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				stats := scheduler.New(env.Engine).RunOnce(ctx)
				return printJSONOrTable(stats)
			})
		},
	}
	return cmd
}

func schedulerStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				interval := env.Config.Scheduler.IntervalMinutes
				fmt.Printf("scheduler running every %dm, Ctrl-C to stop\n", interval)
				scheduler.New(env.Engine).Run(ctx)
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CREWLINE_JWT_SECRET"),
				EnableDevLogin:         devLogin,
				AllowLegacyActorHeader: legacyActor,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("CREWLINE_JWT_SECRET is required for bearer auth")
			}
			metrics.Register()
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Crewline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev login endpoint")
	cmd.Flags().BoolVar(&legacyActor, "allow-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default crewline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func apiKeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "api-key", Short: "Manage API keys"}
	key.AddCommand(apiKeyCreateCmd())
	key.AddCommand(apiKeyDeleteCmd())
	return key
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	var roles []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				return fmt.Errorf("--actor required")
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				raw := uuid.New().String() + uuid.New().String()
				k := domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   actorID,
					Roles:     roles,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := env.Engine.Repo.InsertAPIKey(ctx, k); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"id":       k.ID,
					"actor_id": k.ActorID,
					"roles":    k.Roles,
					"key":      raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles granted to the key")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("api key deleted")
				return nil
			})
		},
	}
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func printWorkers(workers []domain.Worker) error {
	if viper.GetBool("json") {
		return printJSON(workers)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Tier", "Attendance", "On Time", "Safety"})
	for _, w := range workers {
		tw.AppendRow(table.Row{w.ID, w.Name, w.Tier, w.AttendancePct, w.OnTimePct, w.SafetyPct})
	}
	tw.Render()
	return nil
}

func parseJSONMap(name, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return m, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
