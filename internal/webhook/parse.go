package webhook

import (
	"encoding/json"
	"fmt"
)

type repoPayload struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// parse extracts the fields the kernel cares about from a raw GitHub webhook
// body. It returns (nil, nil) for recognized-but-uninteresting payloads
// (e.g. a ping with no repository), matching spec.md §6's "unknown kinds are
// ignored" for both unknown event types and uninteresting instances of a
// known one.
func parse(eventType string, body []byte) (*Event, error) {
	var base repoPayload
	if err := json.Unmarshal(body, &base); err != nil {
		return nil, fmt.Errorf("unmarshal base payload: %w", err)
	}

	switch eventType {
	case "ping":
		if base.Repository.FullName == "" {
			return nil, nil
		}
		return &Event{Type: eventType, Repository: base.Repository.FullName, Summary: "webhook ping received"}, nil

	case "push":
		var p struct {
			Ref     string `json:"ref"`
			Pusher  struct{ Name string } `json:"pusher"`
			Commits []struct{ Message string } `json:"commits"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal push payload: %w", err)
		}
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("%s pushed %d commit(s) to %s", p.Pusher.Name, len(p.Commits), p.Ref),
		}, nil

	case "pull_request":
		var p struct {
			Action      string `json:"action"`
			PullRequest struct {
				Number int    `json:"number"`
				Title  string `json:"title"`
				HTMLURL string `json:"html_url"`
			} `json:"pull_request"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pull_request payload: %w", err)
		}
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("PR #%d %s: %s (%s)", p.PullRequest.Number, p.Action, p.PullRequest.Title, p.PullRequest.HTMLURL),
		}, nil

	case "issues":
		var p struct {
			Action string `json:"action"`
			Issue  struct {
				Number  int    `json:"number"`
				Title   string `json:"title"`
				HTMLURL string `json:"html_url"`
			} `json:"issue"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal issues payload: %w", err)
		}
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("issue #%d %s: %s (%s)", p.Issue.Number, p.Action, p.Issue.Title, p.Issue.HTMLURL),
		}, nil

	case "workflow_run":
		var p struct {
			Action      string `json:"action"`
			WorkflowRun struct {
				Name       string `json:"name"`
				Status     string `json:"status"`
				Conclusion string `json:"conclusion"`
				HTMLURL    string `json:"html_url"`
			} `json:"workflow_run"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal workflow_run payload: %w", err)
		}
		critical := p.WorkflowRun.Conclusion == "failure"
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("workflow %q %s (%s)", p.WorkflowRun.Name, p.WorkflowRun.Status, p.WorkflowRun.Conclusion),
			Critical:   critical,
		}, nil

	case "create":
		var p struct {
			RefType string `json:"ref_type"`
			Ref     string `json:"ref"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal create payload: %w", err)
		}
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("%s %q created", p.RefType, p.Ref),
		}, nil

	case "release":
		var p struct {
			Action  string `json:"action"`
			Release struct {
				TagName string `json:"tag_name"`
				HTMLURL string `json:"html_url"`
			} `json:"release"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("unmarshal release payload: %w", err)
		}
		return &Event{
			Type:       eventType,
			Repository: base.Repository.FullName,
			Summary:    fmt.Sprintf("release %s %s (%s)", p.Release.TagName, p.Action, p.Release.HTMLURL),
		}, nil

	default:
		return nil, nil
	}
}
