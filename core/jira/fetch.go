package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	searchPageSize = 50
	// searchMaxIssues caps a single scope so a misreported total cannot
	// loop forever.
	searchMaxIssues = 1000
	searchTimeout   = 30 * time.Second
)

// searchFields is the field-selection list sent with every search request.
// The deployment-specific story-points custom field is appended per request.
var searchFields = []string{
	"key", "summary", "status", "assignee", "priority",
	"created", "updated", "issuetype", "project",
	"description", "components", "labels",
}

// FetchError is a per-scope failure: the scope's results are incomplete but
// other scopes are unaffected.
type FetchError struct {
	Project string
	Status  int
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("project %s: %v", e.Project, e.Err)
	}
	return fmt.Sprintf("project %s: search returned HTTP %d", e.Project, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Diagnostic returns one operator-facing sentence for this scope failure.
func (e *FetchError) Diagnostic() string {
	switch e.Status {
	case http.StatusBadRequest:
		return fmt.Sprintf("the query for project %s was rejected (400): check the project key and JQL syntax", e.Project)
	case http.StatusUnauthorized:
		return fmt.Sprintf("the credential was rejected mid-fetch for project %s (401): the token may have expired", e.Project)
	case http.StatusForbidden:
		return fmt.Sprintf("access to project %s was forbidden (403): the account lacks browse permission", e.Project)
	case 0:
		return fmt.Sprintf("a network error interrupted the fetch for project %s: check connectivity and retry", e.Project)
	default:
		return fmt.Sprintf("the tracker returned an unexpected error for project %s (HTTP %d): likely a server-side problem", e.Project, e.Status)
	}
}

// Window bounds a search by update time. A zero Until leaves the range open.
type Window struct {
	Since time.Time
	Until time.Time
}

// SearchOptions configures one fetch run.
type SearchOptions struct {
	Projects []string
	Window   Window

	// StoryPointsField is the deployment-specific custom field id holding
	// numeric estimates (commonly "customfield_10016"). Empty disables the
	// roll-up.
	StoryPointsField string
}

// FetchResult is the merged outcome across all scopes. Issues from failed
// scopes are partial; ordering across scopes is unspecified.
type FetchResult struct {
	Issues        []Issue
	Errors        []*FetchError
	ParseFailures int
}

// FetchIssues retrieves issues updated in the last daysBack days across the
// given project scopes. The client must have negotiated a session first.
func (c *Client) FetchIssues(ctx context.Context, projects []string, daysBack int) (*FetchResult, error) {
	return c.Search(ctx, SearchOptions{
		Projects: projects,
		Window:   Window{Since: time.Now().UTC().AddDate(0, 0, -daysBack)},
	})
}

// Search pages through the tracker's search endpoint for every scope,
// normalizing records through the session's parse path. Scopes run
// concurrently over the shared read-only session; per-scope failures are
// collected, never raised, so one bad project cannot sink the fetch.
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*FetchResult, error) {
	if c.session == nil {
		return nil, fmt.Errorf("no negotiated session: call Negotiate first")
	}

	type scopeResult struct {
		issues        []Issue
		err           *FetchError
		parseFailures int
	}

	results := make([]scopeResult, len(opts.Projects))
	g, gctx := errgroup.WithContext(ctx)
	for i, project := range opts.Projects {
		i, project := i, project
		g.Go(func() error {
			issues, failures, err := c.searchScope(gctx, project, opts)
			results[i] = scopeResult{issues: issues, err: err, parseFailures: failures}
			return nil
		})
	}
	// Scope goroutines report through their slot, never an error.
	_ = g.Wait()

	merged := &FetchResult{}
	for _, r := range results {
		merged.Issues = append(merged.Issues, r.issues...)
		merged.ParseFailures += r.parseFailures
		if r.err != nil {
			merged.Errors = append(merged.Errors, r.err)
		}
	}
	slog.Info("Fetch complete",
		"issues", len(merged.Issues),
		"scopeErrors", len(merged.Errors),
		"parseFailures", merged.ParseFailures)
	return merged, nil
}

// searchPage is the pagination envelope of the search response. Individual
// records stay raw so each can be parsed and dropped independently.
type searchPage struct {
	StartAt    int               `json:"startAt"`
	MaxResults int               `json:"maxResults"`
	Total      int               `json:"total"`
	Issues     []json.RawMessage `json:"issues"`
}

func (c *Client) searchScope(ctx context.Context, project string, opts SearchOptions) ([]Issue, int, *FetchError) {
	jql := buildJQL(project, opts.Window)
	slog.Debug("Executing JQL", "project", project, "jql", jql)

	fields := searchFields
	if opts.StoryPointsField != "" {
		fields = append(append([]string{}, searchFields...), opts.StoryPointsField)
	}

	var issues []Issue
	parseFailures := 0
	startAt := 0

	for {
		page, status, err := c.searchRequest(ctx, jql, startAt, fields)
		if err != nil {
			return issues, parseFailures, &FetchError{Project: project, Status: status, Err: err}
		}

		for _, raw := range page.Issues {
			issue, err := c.parseRecord(raw, opts.StoryPointsField)
			if err != nil {
				parseFailures++
				slog.Warn("Dropping malformed record", "project", project, "error", err)
				continue
			}
			issues = append(issues, issue)
		}

		slog.Debug("Search page processed",
			"project", project, "startAt", startAt, "total", page.Total, "issuesSoFar", len(issues))

		if startAt+searchPageSize >= page.Total || len(issues) >= searchMaxIssues {
			break
		}
		startAt += searchPageSize
	}

	slog.Info("Retrieved issues", "project", project, "count", len(issues))
	return issues, parseFailures, nil
}

func (c *Client) searchRequest(ctx context.Context, jql string, startAt int, fields []string) (*searchPage, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(searchPageSize))
	params.Set("fields", strings.Join(fields, ","))

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet,
		c.session.APIRoot+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	c.session.apply(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode,
			fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var page searchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("parsing search response: %w", err)
	}
	return &page, resp.StatusCode, nil
}

// parseRecord routes one raw record through the parse path matching the
// session: token sessions decode into typed structs (the library shape),
// basic/header sessions decode into raw maps. Both converge on Issue.
func (c *Client) parseRecord(raw json.RawMessage, pointsField string) (Issue, error) {
	if c.session.Scheme == SchemeToken {
		var rec libraryIssue
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Issue{}, fmt.Errorf("decoding typed record: %w", err)
		}
		return issueFromLibrary(rec, pointsField)
	}
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Issue{}, fmt.Errorf("decoding raw record: %w", err)
	}
	return issueFromRaw(rec, pointsField)
}

// buildJQL constrains one project scope by update time, newest first.
func buildJQL(project string, w Window) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "project = %q", project)
	if !w.Since.IsZero() {
		fmt.Fprintf(&sb, " AND updated >= %q", w.Since.Format("2006-01-02"))
	}
	if !w.Until.IsZero() {
		fmt.Fprintf(&sb, " AND updated <= %q", w.Until.Format("2006-01-02")+" 23:59")
	}
	sb.WriteString(" ORDER BY updated DESC")
	return sb.String()
}
