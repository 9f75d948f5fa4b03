package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/statuspulse/statuspulse/core/jira"
)

const (
	thisWeekHighlights = 10
	lastWeekHighlights = 5
)

var statusMarkers = map[string]string{
	BucketCompleted:  "✅",
	BucketInProgress: "🚧",
	BucketBlocked:    "🚫",
	BucketTodo:       "📝",
	BucketOther:      "❓",
}

// Generator writes markdown status reports into an output directory.
type Generator struct {
	OutputDir string
}

// Generate renders the summary into a dated markdown report and writes it to
// the output directory, returning the file path.
func (g *Generator) Generate(summary Summary, now time.Time) (string, error) {
	if err := os.MkdirAll(g.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	name := fmt.Sprintf("status_update_%s.md", now.Format("2006-01-02"))
	path := filepath.Join(g.OutputDir, name)

	content := Render(summary, now)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	slog.Info("Generated report", "path", path)
	return path, nil
}

// Render produces the markdown body for a summary. Pure function of its
// inputs so callers can render without touching the filesystem.
func Render(summary Summary, now time.Time) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Bi-Weekly Status Update - %s\n\n", now.Format("2006-01-02"))

	sb.WriteString("## 📊 Executive Summary\n\n")
	fmt.Fprintf(&sb, "- **Total Tasks Reviewed:** %d\n", summary.TotalTasks)
	fmt.Fprintf(&sb, "- **Story Points Progress:** %s/%s completed\n",
		formatPoints(summary.StoryPoints.Completed), formatPoints(summary.StoryPoints.Total))
	fmt.Fprintf(&sb, "- **Active Projects:** %d\n", len(summary.ByProject))

	sb.WriteString("\n## 🎯 Status Breakdown\n\n")
	for _, bucket := range sortedKeys(summary.ByStatus) {
		count := summary.ByStatus[bucket]
		pct := 0.0
		if summary.TotalTasks > 0 {
			pct = float64(count) / float64(summary.TotalTasks) * 100
		}
		marker := statusMarkers[bucket]
		if marker == "" {
			marker = statusMarkers[BucketOther]
		}
		fmt.Fprintf(&sb, "- %s **%s:** %d tasks (%.1f%%)\n", marker, titleCase(bucket), count, pct)
	}

	sb.WriteString("\n## 📈 Project Breakdown\n\n")
	for _, project := range sortedKeys(summary.ByProject) {
		fmt.Fprintf(&sb, "- **%s:** %d tasks\n", project, summary.ByProject[project])
	}

	sb.WriteString("\n## 👥 Team Activity\n\n")
	for _, assignee := range keysByCount(summary.ByAssignee) {
		fmt.Fprintf(&sb, "- **%s:** %d tasks\n", assignee, summary.ByAssignee[assignee])
	}

	sb.WriteString("\n## 🔥 This Week's Highlights\n\n")
	if len(summary.ThisWeek) == 0 {
		sb.WriteString("No significant updates this week.\n")
	}
	for i, issue := range summary.ThisWeek {
		if i >= thisWeekHighlights {
			break
		}
		assignee := issue.Assignee
		if assignee == "" {
			assignee = Unassigned
		}
		fmt.Fprintf(&sb, "- **[%s]** %s\n", issue.Key, issue.Summary)
		fmt.Fprintf(&sb, "  - Status: %s\n", issue.Status)
		fmt.Fprintf(&sb, "  - Assignee: %s\n", assignee)
		fmt.Fprintf(&sb, "  - Updated: %s\n\n", issue.Updated.Format("2006-01-02 15:04"))
	}

	sb.WriteString("\n## 📋 Previous Week's Activity\n\n")
	if len(summary.LastWeek) == 0 {
		sb.WriteString("No significant updates from previous week.\n")
	}
	for i, issue := range summary.LastWeek {
		if i >= lastWeekHighlights {
			break
		}
		fmt.Fprintf(&sb, "- **[%s]** %s - %s\n", issue.Key, issue.Summary, issue.Status)
	}

	fmt.Fprintf(&sb, "\n---\n*Report generated on %s*\n", now.Format("2006-01-02 15:04:05"))
	return sb.String()
}

func formatPoints(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keysByCount sorts labels by descending count, ties alphabetically.
func keysByCount(m map[string]int) []string {
	keys := sortedKeys(m)
	sort.SliceStable(keys, func(i, j int) bool { return m[keys[i]] > m[keys[j]] })
	return keys
}

func titleCase(bucket string) string {
	parts := strings.Split(bucket, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// TopIssues returns up to n issues for inclusion in enrichment packets.
func TopIssues(issues []jira.Issue, n int) []jira.Issue {
	if len(issues) <= n {
		return issues
	}
	return issues[:n]
}
