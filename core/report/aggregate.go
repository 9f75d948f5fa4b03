// Package report reduces normalized issues to summary statistics and renders
// them as status reports.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/statuspulse/statuspulse/core/jira"
)

// Unassigned is the sentinel label for issues without an assignee, so the
// per-assignee histogram always sums to the issue total.
const Unassigned = "Unassigned"

// Bucket names for the normalized status lifecycle.
const (
	BucketCompleted  = "completed"
	BucketInProgress = "in_progress"
	BucketBlocked    = "blocked"
	BucketTodo       = "todo"
	BucketOther      = "other"
)

// DefaultBuckets maps the common Jira workflow names into status buckets.
// Deployments with custom workflows override this table via configuration.
func DefaultBuckets() map[string][]string {
	return map[string][]string{
		BucketCompleted:  {"Done", "Closed", "Resolved", "Complete"},
		BucketInProgress: {"In Progress", "In Development", "In Review", "Testing"},
		BucketBlocked:    {"Blocked", "Waiting", "On Hold"},
		BucketTodo:       {"To Do", "Open", "New", "Backlog"},
	}
}

// Classifier performs the many-to-one raw-status to bucket lookup. Lookup is
// case-insensitive; unrecognized names classify as BucketOther.
type Classifier struct {
	byStatus map[string]string
}

// NewClassifier builds a classifier from a bucket table. A nil table uses
// DefaultBuckets.
func NewClassifier(buckets map[string][]string) *Classifier {
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	c := &Classifier{byStatus: make(map[string]string)}
	for bucket, names := range buckets {
		for _, name := range names {
			c.byStatus[strings.ToLower(name)] = bucket
		}
	}
	return c
}

// Bucket returns the bucket for a raw status name.
func (c *Classifier) Bucket(status string) string {
	if b, ok := c.byStatus[strings.ToLower(status)]; ok {
		return b
	}
	return BucketOther
}

// Points holds the story-point roll-up.
type Points struct {
	Total     float64 `json:"total"`
	Completed float64 `json:"completed"`
}

// Summary is the aggregation output: purely a function of the issue list and
// the reference time, recomputed on every run.
type Summary struct {
	TotalTasks  int            `json:"total_tasks"`
	ByStatus    map[string]int `json:"by_status"`
	ByProject   map[string]int `json:"by_project"`
	ByAssignee  map[string]int `json:"by_assignee"`
	ByPriority  map[string]int `json:"by_priority"`
	StoryPoints Points         `json:"story_points"`
	ThisWeek    []jira.Issue   `json:"this_week"`
	LastWeek    []jira.Issue   `json:"last_week"`
}

// Aggregate reduces issues to a Summary relative to now. An issue updated at
// or after now-7d lands in ThisWeek; at or after now-14d but before now-7d in
// LastWeek; older issues count toward totals only. Both lists come back
// sorted by update time, newest first. Aggregating an empty list yields a
// Summary with all counts at zero.
func Aggregate(issues []jira.Issue, now time.Time, classifier *Classifier) Summary {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}

	summary := Summary{
		TotalTasks: len(issues),
		ByStatus:   make(map[string]int),
		ByProject:  make(map[string]int),
		ByAssignee: make(map[string]int),
		ByPriority: make(map[string]int),
	}

	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)

	for _, issue := range issues {
		bucket := classifier.Bucket(issue.Status)
		summary.ByStatus[bucket]++
		summary.ByProject[issue.Project]++
		summary.ByPriority[issue.Priority]++

		assignee := issue.Assignee
		if assignee == "" {
			assignee = Unassigned
		}
		summary.ByAssignee[assignee]++

		if issue.StoryPoints != nil {
			summary.StoryPoints.Total += *issue.StoryPoints
			if bucket == BucketCompleted {
				summary.StoryPoints.Completed += *issue.StoryPoints
			}
		}

		if !issue.Updated.Before(weekAgo) {
			summary.ThisWeek = append(summary.ThisWeek, issue)
		} else if !issue.Updated.Before(twoWeeksAgo) {
			summary.LastWeek = append(summary.LastWeek, issue)
		}
	}

	byRecency := func(list []jira.Issue) func(i, j int) bool {
		return func(i, j int) bool { return list[i].Updated.After(list[j].Updated) }
	}
	sort.SliceStable(summary.ThisWeek, byRecency(summary.ThisWeek))
	sort.SliceStable(summary.LastWeek, byRecency(summary.LastWeek))

	return summary
}
