package crewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Program represents the API program model (partial).
type Program struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	RequiredTier string `json:"required_tier"`
	TeamMin      int    `json:"team_min"`
	TeamMax      int    `json:"team_max"`
	LeaderBonus  int64  `json:"leader_bonus"`
	MemberBonus  int64  `json:"member_bonus"`
	DueAt        string `json:"due_at"`
}

// Application represents a leadership bid.
type Application struct {
	ID              string   `json:"id"`
	ProgramID       string   `json:"program_id"`
	WorkerID        string   `json:"worker_id"`
	Status          string   `json:"status"`
	RankingScore    *float64 `json:"ranking_score,omitempty"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	AppliedAt       string   `json:"applied_at"`
}

// Assignment records the selected leader.
type Assignment struct {
	ProgramID  string `json:"program_id"`
	LeaderID   string `json:"leader_id"`
	SelectedBy string `json:"selected_by"`
	SelectedAt string `json:"selected_at"`
}

// SelectionOutcome is the result of running leader selection.
type SelectionOutcome struct {
	ProgramID       string      `json:"program_id"`
	Assignment      *Assignment `json:"assignment,omitempty"`
	AlreadySelected bool        `json:"already_selected"`
	NoApplicants    bool        `json:"no_applicants"`
}

// TeamMember is one row of a program team.
type TeamMember struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	WorkerID  string `json:"worker_id"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	InvitedAt string `json:"invited_at"`
}

// PayoutResult is one worker's line in a payout run.
type PayoutResult struct {
	WorkerID      string `json:"worker_id"`
	Role          string `json:"role"`
	Kind          string `json:"kind"`
	Amount        int64  `json:"amount"`
	WorkedDays    int    `json:"worked_days"`
	Posted        bool   `json:"posted"`
	SkippedReason string `json:"skipped_reason,omitempty"`
}

// PayoutSummary wraps a payout run.
type PayoutSummary struct {
	ProgramID       string         `json:"program_id"`
	Results         []PayoutResult `json:"results"`
	AlreadyApproved bool           `json:"already_approved"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProgramID  string `json:"program_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProgram creates a draft program.
func (c *Client) CreateProgram(ctx context.Context, body map[string]any) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, "v1/programs", body, &resp)
	return resp, err
}

// PublishProgram opens a draft program for applications.
func (c *Client) PublishProgram(ctx context.Context, programID string) (Program, error) {
	var resp Program
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "publish"), nil, &resp)
	return resp, err
}

// Apply submits a leadership application.
func (c *Client) Apply(ctx context.Context, programID string, preferredSize *int, memberIDs []string) (Application, error) {
	body := map[string]any{}
	if preferredSize != nil {
		body["preferred_team_size"] = *preferredSize
	}
	if len(memberIDs) > 0 {
		body["member_worker_ids"] = memberIDs
	}
	var resp Application
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "applications"), body, &resp)
	return resp, err
}

// SelectLeader runs leader selection for a program.
func (c *Client) SelectLeader(ctx context.Context, programID string) (SelectionOutcome, error) {
	var resp SelectionOutcome
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "select-leader"), nil, &resp)
	return resp, err
}

// InviteMember invites a worker onto the team.
func (c *Client) InviteMember(ctx context.Context, programID, workerID string) (TeamMember, error) {
	body := map[string]any{"worker_id": workerID}
	var resp TeamMember
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "team/invites"), body, &resp)
	return resp, err
}

// RespondInvite accepts or declines the caller's pending invite.
func (c *Client) RespondInvite(ctx context.Context, programID string, accept bool) (TeamMember, error) {
	body := map[string]any{"accept": accept}
	var resp TeamMember
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "team/respond"), body, &resp)
	return resp, err
}

// SubmitCompletion submits the leader's completion evidence.
func (c *Client) SubmitCompletion(ctx context.Context, programID string, checklist, evidence map[string]any) error {
	body := map[string]any{
		"checklist": checklist,
		"evidence":  evidence,
	}
	return c.do(ctx, http.MethodPost, c.programPath(programID, "submission"), body, nil)
}

// Verify records the supervisor verdict.
func (c *Client) Verify(ctx context.Context, programID, decision string, qcScores map[string]float64, notes string) error {
	body := map[string]any{
		"decision":  decision,
		"qc_scores": qcScores,
		"notes":     notes,
	}
	return c.do(ctx, http.MethodPost, c.programPath(programID, "verification"), body, nil)
}

// Payout approves a verified program and posts incentives.
func (c *Client) Payout(ctx context.Context, programID string) (PayoutSummary, error) {
	var resp PayoutSummary
	err := c.do(ctx, http.MethodPost, c.programPath(programID, "payout"), nil, &resp)
	return resp, err
}

// Events returns recent events, optionally scoped to a program.
func (c *Client) Events(ctx context.Context, limit int, programID string) ([]Event, error) {
	endpoint := "v1/events"
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if programID != "" {
		q.Set("program_id", programID)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) programPath(programID, p string) string {
	return fmt.Sprintf("v1/programs/%s/%s", url.PathEscape(programID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
