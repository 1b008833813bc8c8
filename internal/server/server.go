package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"program is not open for applications"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Crewline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Handle("/metrics", promhttp.Handler())
	hcfg := huma.DefaultConfig("Crewline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPrograms(group, cfg.Engine)
	registerApplications(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerCompletion(group, cfg.Engine)
	registerWorkers(group, cfg.Engine)
	registerPolicy(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine error types onto the HTTP envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", ve.Error(), map[string]any{"field": ve.Field})
	}
	var se engine.StateError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_state", se.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", ce.Error(), nil)
	}
	var de engine.DependencyError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadGateway, "dependency_failed", de.Error(), map[string]any{"source": de.Source})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "invalid_state"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Crewline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type programPath struct {
	ProgramID string `path:"program_id"`
}

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-program",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create program",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body ProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.CreateProgram(ctx, input.Body.toOptions("", p.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-programs",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		Limit           int    `query:"limit" default:"50"`
		CursorCreatedAt string `query:"cursor_created_at"`
		CursorID        string `query:"cursor_id"`
	}) (*struct {
		Body []domain.Program `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleWorker, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		if input.Status != "" && !domain.ProgramStatus(input.Status).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status", nil)
		}
		items, err := e.Repo.ListPrograms(ctx, repo.ProgramFilters{
			Status:          domain.ProgramStatus(input.Status),
			Limit:           input.Limit,
			CursorCreatedAt: input.CursorCreatedAt,
			CursorID:        input.CursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Program `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}",
		Summary:     "Get program detail",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.ProgramDetail `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleWorker, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		detail, err := e.GetProgramDetail(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProgramDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-program",
		Method:      http.MethodPatch,
		Path:        "/programs/{program_id}",
		Summary:     "Update a draft program",
	}, func(ctx context.Context, input *struct {
		ProgramID string         `path:"program_id"`
		Body      ProgramRequest `json:"body"`
	}) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		updated, err := e.UpdateProgram(ctx, input.Body.toOptions(input.ProgramID, p.ActorID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-program",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/publish",
		Summary:     "Publish a draft program",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		published, err := e.PublishProgram(ctx, input.ProgramID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: published}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-program",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/archive",
		Summary:     "Archive a program",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		archived, err := e.ArchiveProgram(ctx, input.ProgramID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: archived}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-program",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/start",
		Summary:     "Start a program whose team reached the minimum size",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body domain.Program `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.StartProgram(ctx, input.ProgramID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		started, err := e.Repo.GetProgram(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Program `json:"body"`
		}{Body: started}, nil
	})
}

func registerApplications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/applications",
		Summary:       "Apply to lead a program",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProgramID string       `path:"program_id"`
		Body      ApplyRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.Apply(ctx, engine.ApplyOptions{
			ProgramID:         input.ProgramID,
			WorkerID:          p.ActorID,
			PreferredTeamSize: input.Body.PreferredTeamSize,
			MemberWorkerIDs:   input.Body.MemberWorkerIDs,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-applications",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/applications",
		Summary:     "List a program's applications",
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		Status    string `query:"status" enum:"applied,selected,rejected,"`
	}) (*struct {
		Body []domain.Application `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListApplications(ctx, input.ProgramID, domain.ApplicationStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Application `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-applications",
		Method:      http.MethodGet,
		Path:        "/me/applications",
		Summary:     "List the caller's applications",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Application `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkerApplications(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Application `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "select-leader",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/select-leader",
		Summary:     "Run leader selection now",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.SelectionOutcome `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.SelectLeader(ctx, input.ProgramID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SelectionOutcome `json:"body"`
		}{Body: out}, nil
	})

	type applicationPath struct {
		ApplicationID string `path:"application_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "approve-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/approve",
		Summary:     "Approve an application as the program leader",
	}, func(ctx context.Context, input *applicationPath) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		assignment, err := e.AdminApproveApplication(ctx, input.ApplicationID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: assignment}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-application",
		Method:      http.MethodPost,
		Path:        "/applications/{application_id}/reject",
		Summary:     "Reject a pending application",
	}, func(ctx context.Context, input *struct {
		ApplicationID string        `path:"application_id"`
		Body          RejectRequest `json:"body"`
	}) (*struct {
		Body domain.Application `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.AdminRejectApplication(ctx, input.ApplicationID, input.Body.Reason, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetApplication(ctx, input.ApplicationID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Application `json:"body"`
		}{Body: a}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-team",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/team",
		Summary:     "List the program team",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleWorker, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		team, err := e.Team(ctx, input.ProgramID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: team}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-candidates",
		Method:      http.MethodGet,
		Path:        "/programs/{program_id}/candidates",
		Summary:     "List invitable workers for a program",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body []domain.Worker `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		leaderID := p.ActorID
		if p.hasRole(RoleAdmin) {
			if assignment, err := e.Repo.GetAssignment(ctx, input.ProgramID); err == nil {
				leaderID = assignment.LeaderID
			}
		}
		workers, err := e.ListCandidates(ctx, input.ProgramID, leaderID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Worker `json:"body"`
		}{Body: workers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "invite-member",
		Method:        http.MethodPost,
		Path:          "/programs/{program_id}/team/invites",
		Summary:       "Invite a worker onto the team",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProgramID string        `path:"program_id"`
		Body      InviteRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.WorkerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "worker_id is required", nil)
		}
		m, err := e.InviteMember(ctx, input.ProgramID, p.ActorID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-invite",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/team/respond",
		Summary:     "Accept or decline a team invitation",
	}, func(ctx context.Context, input *struct {
		ProgramID string               `path:"program_id"`
		Body      RespondInviteRequest `json:"body"`
	}) (*struct {
		Body domain.TeamMember `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RespondInvite(ctx, input.ProgramID, p.ActorID, input.Body.Accept)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TeamMember `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-member",
		Method:      http.MethodDelete,
		Path:        "/programs/{program_id}/team/{worker_id}",
		Summary:     "Remove a member from the team",
	}, func(ctx context.Context, input *struct {
		ProgramID string `path:"program_id"`
		WorkerID  string `path:"worker_id"`
	}) (*struct{}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		if !p.hasRole(RoleAdmin) {
			assignment, err := e.Repo.GetAssignment(ctx, input.ProgramID)
			if err != nil {
				return nil, handleError(err)
			}
			if assignment.LeaderID != p.ActorID {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "only the leader or an admin can remove members", nil)
			}
		}
		if err := e.RemoveMember(ctx, input.ProgramID, input.WorkerID, p.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-invites",
		Method:      http.MethodGet,
		Path:        "/me/invites",
		Summary:     "List the caller's pending invitations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TeamMember `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListWorkerInvites(ctx, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TeamMember `json:"body"`
		}{Body: items}, nil
	})
}

func registerCompletion(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-completion",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/submission",
		Summary:     "Submit the completion package",
	}, func(ctx context.Context, input *struct {
		ProgramID string        `path:"program_id"`
		Body      SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.Submission `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleWorker)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SubmitCompletion(ctx, input.ProgramID, p.ActorID, input.Body.Checklist, input.Body.Evidence)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Submission `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-submission",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/verification",
		Summary:     "Record the supervisor verification",
	}, func(ctx context.Context, input *struct {
		ProgramID string        `path:"program_id"`
		Body      VerifyRequest `json:"body"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleSupervisor)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.SupervisorVerify(ctx, input.ProgramID, p.ActorID,
			domain.VerificationDecision(input.Body.Decision), input.Body.QCScores, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-payout",
		Method:      http.MethodPost,
		Path:        "/programs/{program_id}/payout",
		Summary:     "Approve the program and post incentives",
	}, func(ctx context.Context, input *programPath) (*struct {
		Body engine.PayoutSummary `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		sum, err := e.ApproveAndPostPayout(ctx, input.ProgramID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PayoutSummary `json:"body"`
		}{Body: sum}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-worker",
		Method:      http.MethodPut,
		Path:        "/workers/{worker_id}",
		Summary:     "Create or update a worker profile",
	}, func(ctx context.Context, input *struct {
		WorkerID string        `path:"worker_id"`
		Body     WorkerRequest `json:"body"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		tier := domain.Tier(input.Body.Tier)
		if !tier.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown tier", nil)
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		w := domain.Worker{
			ID:            input.WorkerID,
			Name:          input.Body.Name,
			Tier:          tier,
			Skills:        input.Body.Skills,
			Active:        active,
			AttendancePct: input.Body.AttendancePct,
			OnTimePct:     input.Body.OnTimePct,
			SafetyPct:     input.Body.SafetyPct,
			CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.UpsertWorker(ctx, w); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List active workers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Worker `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleWorker, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListActiveWorkers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Worker `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-work-days",
		Method:      http.MethodPost,
		Path:        "/workers/{worker_id}/work-days",
		Summary:     "Record attendance days for a worker",
	}, func(ctx context.Context, input *struct {
		WorkerID string          `path:"worker_id"`
		Body     WorkDaysRequest `json:"body"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		for _, d := range input.Body.Days {
			err := e.Repo.UpsertWorkDay(ctx, domain.WorkDay{
				WorkerID: input.WorkerID,
				Day:      d.Day,
				Locked:   d.Locked,
				Outcome:  domain.DayOutcome(d.Outcome),
			})
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"recorded": len(input.Body.Days)}}, nil
	})
}

func registerPolicy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-policy",
		Method:      http.MethodGet,
		Path:        "/policy",
		Summary:     "Get the participation policy",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ParticipationPolicy `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleWorker, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		pol, err := e.Repo.GetParticipationPolicy(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "policy not configured", nil)
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ParticipationPolicy `json:"body"`
		}{Body: pol}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-policy",
		Method:      http.MethodPut,
		Path:        "/policy",
		Summary:     "Set the participation policy",
	}, func(ctx context.Context, input *struct {
		Body PolicyRequest `json:"body"`
	}) (*struct {
		Body domain.ParticipationPolicy `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		if input.Body.MinDaysParticipation < 0 || input.Body.MaxConcurrentPrograms < 1 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid policy values", nil)
		}
		pol := domain.ParticipationPolicy{
			MinDaysParticipation:  input.Body.MinDaysParticipation,
			EnforceNoOverlap:      input.Body.EnforceNoOverlap,
			MaxConcurrentPrograms: input.Body.MaxConcurrentPrograms,
			UpdatedAt:             time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.UpsertParticipationPolicy(ctx, pol); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ParticipationPolicy `json:"body"`
		}{Body: pol}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		ProgramID string `query:"program_id"`
		Type      string `query:"type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleSupervisor); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.ProgramID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body APIKeyCreateRequest `json:"body"`
	}) (*struct {
		Body APIKeyCreateResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		raw := uuid.New().String() + uuid.New().String()
		k := domain.APIKey{
			ID:        uuid.New().String(),
			ActorID:   input.Body.ActorID,
			Roles:     input.Body.Roles,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyCreateResponse `json:"body"`
		}{Body: APIKeyCreateResponse{ID: k.ID, ActorID: k.ActorID, Roles: k.Roles, Key: raw}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete an API key",
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if !authCfg.EnableDevLogin {
			return nil, newAPIError(http.StatusNotFound, "not_found", "dev login disabled", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if strings.TrimSpace(authCfg.JWTSecret) == "" {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "jwt secret not configured", nil)
		}
		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   input.Body.ActorID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
			},
			Roles: input.Body.Roles,
		})
		signed, err := token.SignedString([]byte(authCfg.JWTSecret))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "sign token", nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: signed}}, nil
	})
}
