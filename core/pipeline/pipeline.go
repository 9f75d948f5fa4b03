// Package pipeline composes the full report run: validate options, negotiate
// an authenticated session, fetch issues across every project scope, and
// aggregate them into a summary.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/statuspulse/statuspulse/core/jira"
	"github.com/statuspulse/statuspulse/core/report"
)

const defaultDaysBack = 14

// ConfigError reports invalid options. It is always raised before any network
// traffic happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Options carries everything a report run needs.
type Options struct {
	BaseURL          string
	Credential       jira.Credential
	Projects         []string
	DaysBack         int
	StoryPointsField string
	Buckets          map[string][]string

	// Now overrides the reference time, mainly for tests. Zero means
	// time.Now.
	Now time.Time

	// Client reuses an already negotiated client instead of building one
	// from BaseURL and Credential.
	Client *jira.Client
}

func (o *Options) validate() error {
	if o.Client == nil && o.BaseURL == "" {
		return &ConfigError{Field: "base_url", Reason: "must not be empty"}
	}
	if o.Client == nil && o.Credential.Empty() {
		return &ConfigError{Field: "credential", Reason: "no token, basic, or OAuth material provided"}
	}
	if len(o.Projects) == 0 {
		return &ConfigError{Field: "projects", Reason: "at least one project key is required"}
	}
	if o.DaysBack < 0 {
		return &ConfigError{Field: "days_back", Reason: "must not be negative"}
	}
	return nil
}

// Result is the outcome of a run. FetchErrors and ParseFailures record the
// partial failures that did not abort the run.
type Result struct {
	Summary       report.Summary
	Issues        []jira.Issue
	FetchErrors   []*jira.FetchError
	ParseFailures int
	Session       *jira.Session
	GeneratedAt   time.Time
}

// Run executes the pipeline. An invalid configuration or a failed negotiation
// aborts the run; per-scope fetch errors and per-record parse failures are
// collected into the result instead.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	daysBack := opts.DaysBack
	if daysBack == 0 {
		daysBack = defaultDaysBack
	}

	client := opts.Client
	if client == nil {
		client = jira.NewClient(opts.BaseURL, opts.Credential)
	}

	session, err := client.Negotiate(ctx)
	if err != nil {
		var authErr *jira.AuthError
		if errors.As(err, &authErr) {
			slog.Error("Authentication failed", "diagnostic", authErr.Diagnostic())
		}
		return nil, fmt.Errorf("negotiating session: %w", err)
	}
	slog.Info("Session established", "scheme", session.Scheme, "api_version", session.APIVersion)

	fetched, err := client.Search(ctx, jira.SearchOptions{
		Projects:         opts.Projects,
		Window:           jira.Window{Since: now.AddDate(0, 0, -daysBack)},
		StoryPointsField: opts.StoryPointsField,
	})
	if err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}
	for _, fe := range fetched.Errors {
		slog.Warn("Project scope failed", "project", fe.Project, "diagnostic", fe.Diagnostic())
	}

	summary := report.Aggregate(fetched.Issues, now, report.NewClassifier(opts.Buckets))
	slog.Info("Run complete",
		"issues", len(fetched.Issues),
		"failed_scopes", len(fetched.Errors),
		"parse_failures", fetched.ParseFailures)

	return &Result{
		Summary:       summary,
		Issues:        fetched.Issues,
		FetchErrors:   fetched.Errors,
		ParseFailures: fetched.ParseFailures,
		Session:       session,
		GeneratedAt:   now,
	}, nil
}
