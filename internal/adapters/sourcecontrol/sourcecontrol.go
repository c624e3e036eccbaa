// Package sourcecontrol implements the SourceControlAdapter (spec.md §4.10):
// GitHub repository, pull-request, issue, and workflow-run operations over
// the REST API, plus the OAuth device-authorization flow used to link a new
// GitHub account from chat.
package sourcecontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/worldline-go/klient"

	"github.com/giquina/clawd-bot/internal/config"
	"github.com/giquina/clawd-bot/internal/kernelerr"
)

// Repository identifies a GitHub repository as "owner/name".
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string { return r.Owner + "/" + r.Name }

// PullRequest is the subset of GitHub's PR representation the bot surfaces
// to chat.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		SHA string `json:"sha"`
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Mergeable *bool `json:"mergeable"`
}

// Issue is the subset of GitHub's issue representation the bot surfaces.
type Issue struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	State   string   `json:"state"`
	HTMLURL string   `json:"html_url"`
	Labels  []string `json:"-"`
}

// WorkflowRun is the subset of a GitHub Actions run the bot surfaces.
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
}

// Adapter performs GitHub REST operations over a klient-wrapped HTTP client,
// in the same construction style as the orchestrator's health-check client.
type Adapter struct {
	client  *klient.Client
	token   string
	baseURL string
}

func New(cfg config.SourceControl) (*Adapter, error) {
	client, err := klient.New(
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create source control client: %w", err)
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}

	return &Adapter{client: client, token: cfg.Token, baseURL: baseURL}, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("source control request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return kernelerr.New(kernelerr.NotFound, fmt.Sprintf("github: %s %s not found", method, path))
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return kernelerr.New(kernelerr.Unauthorized, fmt.Sprintf("github: %s %s denied: %s", method, path, truncate(string(respBody), 200)))
	}
	if resp.StatusCode >= 400 {
		return kernelerr.New(kernelerr.Upstream, fmt.Sprintf("github: %s %s returned %d: %s", method, path, resp.StatusCode, truncate(string(respBody), 200)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

func (a *Adapter) GetPullRequest(ctx context.Context, repo Repository, number int) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", repo.Owner, repo.Name, number)
	if err := a.do(ctx, http.MethodGet, path, nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

type createPRRequest struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Body  string `json:"body,omitempty"`
}

func (a *Adapter) CreatePullRequest(ctx context.Context, repo Repository, title, head, base, body string) (*PullRequest, error) {
	var pr PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls", repo.Owner, repo.Name)
	if err := a.do(ctx, http.MethodPost, path, createPRRequest{Title: title, Head: head, Base: base, Body: body}, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

type mergeRequest struct {
	MergeMethod string `json:"merge_method,omitempty"`
}

func (a *Adapter) MergePullRequest(ctx context.Context, repo Repository, number int, method string) error {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/merge", repo.Owner, repo.Name, number)
	return a.do(ctx, http.MethodPut, path, mergeRequest{MergeMethod: method}, nil)
}

func (a *Adapter) GetIssue(ctx context.Context, repo Repository, number int) (*Issue, error) {
	var raw struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
		Labels  []struct {
			Name string `json:"name"`
		} `json:"labels"`
	}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", repo.Owner, repo.Name, number)
	if err := a.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	issue := &Issue{Number: raw.Number, Title: raw.Title, State: raw.State, HTMLURL: raw.HTMLURL}
	for _, l := range raw.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue, nil
}

type createIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

func (a *Adapter) CreateIssue(ctx context.Context, repo Repository, title, body string, labels []string) (*Issue, error) {
	var raw struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		State   string `json:"state"`
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/issues", repo.Owner, repo.Name)
	if err := a.do(ctx, http.MethodPost, path, createIssueRequest{Title: title, Body: body, Labels: labels}, &raw); err != nil {
		return nil, err
	}
	return &Issue{Number: raw.Number, Title: raw.Title, State: raw.State, HTMLURL: raw.HTMLURL, Labels: labels}, nil
}

// ListWorkflowRuns returns the most recent Actions runs for a workflow file
// (e.g. "ci.yml"), newest first.
func (a *Adapter) ListWorkflowRuns(ctx context.Context, repo Repository, workflowFile string) ([]WorkflowRun, error) {
	var raw struct {
		WorkflowRuns []WorkflowRun `json:"workflow_runs"`
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs?per_page=10", repo.Owner, repo.Name, workflowFile)
	if err := a.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw.WorkflowRuns, nil
}

func (a *Adapter) TriggerWorkflow(ctx context.Context, repo Repository, workflowFile, ref string, inputs map[string]string) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches", repo.Owner, repo.Name, workflowFile)
	body := struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs,omitempty"`
	}{Ref: ref, Inputs: inputs}
	return a.do(ctx, http.MethodPost, path, body, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
