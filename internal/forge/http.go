package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opsrelay/opsrelay/pkg/types"
)

// Per-call HTTP timeout. Strictly smaller than any dispatch cycle deadline.
const defaultRequestTimeout = 10 * time.Second

// Response bodies are error detail only; keep reads bounded.
const maxErrorBody = 4 << 10

// HTTPClient talks to a GitHub-Actions-compatible REST API.
type HTTPClient struct {
	baseURL    string
	owner      string
	repo       string
	tokens     TokenSource
	httpClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithTokenSource sets the per-call bearer token source.
func WithTokenSource(ts TokenSource) HTTPOption {
	return func(c *HTTPClient) { c.tokens = ts }
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithRequestTimeout overrides the per-call timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewHTTPClient creates a client for the given API base URL and repository.
func NewHTTPClient(baseURL, owner, repo string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		owner:      owner,
		repo:       repo,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// DispatchEvent fires a repository dispatch event.
func (c *HTTPClient) DispatchEvent(ctx context.Context, eventType string, payload map[string]any) error {
	body := map[string]any{"event_type": eventType}
	if len(payload) > 0 {
		body["client_payload"] = payload
	}
	return c.do(ctx, http.MethodPost, c.repoPath("dispatches"), body, nil)
}

// DispatchWorkflow triggers a workflow_dispatch run against the given ref.
func (c *HTTPClient) DispatchWorkflow(ctx context.Context, workflowID int64, ref string, inputs map[string]string) error {
	body := map[string]any{"ref": ref}
	if len(inputs) > 0 {
		body["inputs"] = inputs
	}
	path := c.repoPath("actions/workflows/" + strconv.FormatInt(workflowID, 10) + "/dispatches")
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// GetWorkflowByName resolves a workflow by its display name or file name.
func (c *HTTPClient) GetWorkflowByName(ctx context.Context, name string) (*types.RemoteWorkflow, error) {
	var list struct {
		Workflows []wireWorkflow `json:"workflows"`
	}
	if err := c.do(ctx, http.MethodGet, c.repoPath("actions/workflows"), nil, &list); err != nil {
		return nil, err
	}

	for _, wf := range list.Workflows {
		if strings.EqualFold(wf.Name, name) || pathBase(wf.Path) == name {
			w := wf.toRemoteWorkflow()
			return &w, nil
		}
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("workflow %q not found", name)}
}

// ListRuns returns recent runs of a workflow, newest first per the remote API.
func (c *HTTPClient) ListRuns(ctx context.Context, workflowID int64, branch string, limit int) ([]types.RemoteRun, error) {
	q := url.Values{}
	if branch != "" {
		q.Set("branch", branch)
	}
	if limit > 0 {
		q.Set("per_page", strconv.Itoa(limit))
	}
	path := c.repoPath("actions/workflows/" + strconv.FormatInt(workflowID, 10) + "/runs")
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var list struct {
		WorkflowRuns []wireRun `json:"workflow_runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}

	runs := make([]types.RemoteRun, 0, len(list.WorkflowRuns))
	for _, r := range list.WorkflowRuns {
		runs = append(runs, r.toRemoteRun())
	}
	return runs, nil
}

// GetRun fetches a single run snapshot.
func (c *HTTPClient) GetRun(ctx context.Context, runID int64) (*types.RemoteRun, error) {
	var r wireRun
	if err := c.do(ctx, http.MethodGet, c.repoPath("actions/runs/"+strconv.FormatInt(runID, 10)), nil, &r); err != nil {
		return nil, err
	}
	run := r.toRemoteRun()
	return &run, nil
}

func (c *HTTPClient) repoPath(suffix string) string {
	return "/repos/" + c.owner + "/" + c.repo + "/" + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("forge: marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("forge: creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(ctx); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forge: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(detail),
			RetryAfter: parseRetryAfter(resp),
		}
	}

	if out == nil {
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("forge: reading response: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("forge: parsing response: %w (body: %s)", err, bodySnippet(respBody))
	}
	return nil
}

// Unparseable bodies are quoted in the error; keep the excerpt small.
const maxBodySnippet = 256

// bodySnippet flattens a response body into a bounded single-line excerpt
// safe to carry in an error message.
func bodySnippet(b []byte) string {
	s := strings.ToValidUTF8(string(b), "")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet] + "..."
	}
	return s
}

// token resolves the bearer token for one call: an explicit context
// credential wins over the rotating source.
func (c *HTTPClient) token(ctx context.Context) string {
	if tok, ok := credentialFromContext(ctx); ok {
		return tok
	}
	if c.tokens != nil {
		return c.tokens.Token()
	}
	return ""
}

// errorMessage extracts the "message" field from an error body, falling back
// to the raw (bounded) body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return strings.TrimSpace(string(body))
}

// parseRetryAfter reads the server's rate-limit hints: Retry-After in
// seconds, or X-RateLimit-Reset as a unix timestamp once the remaining
// budget hits zero.
func parseRetryAfter(resp *http.Response) *time.Time {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			t := time.Now().Add(time.Duration(secs) * time.Second)
			return &t
		}
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
			if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
				t := time.Unix(unix, 0)
				return &t
			}
		}
	}
	return nil
}

type wireWorkflow struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func (w wireWorkflow) toRemoteWorkflow() types.RemoteWorkflow {
	return types.RemoteWorkflow{ID: w.ID, Name: w.Name, Path: w.Path}
}

type wireRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	HeadBranch   string    `json:"head_branch"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	HTMLURL      string    `json:"html_url"`
}

func (r wireRun) toRemoteRun() types.RemoteRun {
	display := r.DisplayTitle
	if display == "" {
		display = r.Name
	}
	return types.RemoteRun{
		ID:          r.ID,
		DisplayName: display,
		Status:      types.RunStatus(r.Status),
		Conclusion:  types.Conclusion(r.Conclusion),
		HeadBranch:  r.HeadBranch,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		HTMLURL:     r.HTMLURL,
	}
}

func pathBase(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
