package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/statuspulse/statuspulse/core/jira"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() Summary {
	return Aggregate([]jira.Issue{
		makeIssue("P-1", "Done", "Alice", testNow, fp(5)),
		makeIssue("P-2", "In Progress", "Bob", testNow.AddDate(0, 0, -1), fp(3)),
		makeIssue("P-3", "Blocked", "", testNow.AddDate(0, 0, -10), nil),
	}, testNow, nil)
}

func TestRender_Sections(t *testing.T) {
	t.Parallel()
	out := Render(sampleSummary(), testNow)

	assert.Contains(t, out, "# Bi-Weekly Status Update - 2025-06-20")
	assert.Contains(t, out, "## 📊 Executive Summary")
	assert.Contains(t, out, "**Total Tasks Reviewed:** 3")
	assert.Contains(t, out, "**Story Points Progress:** 5/8 completed")
	assert.Contains(t, out, "**Active Projects:** 1")
	assert.Contains(t, out, "✅ **Completed:** 1 tasks (33.3%)")
	assert.Contains(t, out, "🚧 **In Progress:** 1 tasks (33.3%)")
	assert.Contains(t, out, "- **PROJ:** 3 tasks")
	assert.Contains(t, out, "- **[P-1]** summary P-1")
	assert.Contains(t, out, "  - Assignee: Alice")
	assert.Contains(t, out, "- **[P-3]** summary P-3 - Blocked")
	assert.Contains(t, out, "*Report generated on 2025-06-20 12:00:00*")
}

func TestRender_EmptySummary(t *testing.T) {
	t.Parallel()
	out := Render(Aggregate(nil, testNow, nil), testNow)
	assert.Contains(t, out, "No significant updates this week.")
	assert.Contains(t, out, "No significant updates from previous week.")
	assert.Contains(t, out, "**Total Tasks Reviewed:** 0")
}

func TestRender_UnassignedInTeamActivity(t *testing.T) {
	t.Parallel()
	out := Render(sampleSummary(), testNow)
	assert.Contains(t, out, "- **Unassigned:** 1 tasks")
}

func TestRender_CapsHighlightCounts(t *testing.T) {
	t.Parallel()
	issues := make([]jira.Issue, 0, 20)
	for i := 0; i < 20; i++ {
		issues = append(issues, makeIssue(
			// Spread keys so ordering is deterministic.
			"P-"+string(rune('A'+i)), "Done", "A",
			testNow.Add(-time.Duration(i)*time.Hour), nil))
	}
	summary := Aggregate(issues, testNow, nil)
	require.Len(t, summary.ThisWeek, 20)

	out := Render(summary, testNow)
	// 10 this-week entries render an Updated subline each.
	assert.Equal(t, thisWeekHighlights, strings.Count(out, "  - Updated: "))
}

func TestGenerator_WritesDatedFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gen := &Generator{OutputDir: filepath.Join(dir, "reports")}

	path, err := gen.Generate(sampleSummary(), testNow)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "status_update_2025-06-20.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Bi-Weekly Status Update - 2025-06-20")
}

func TestFormatPoints(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "8", formatPoints(8))
	assert.Equal(t, "2.5", formatPoints(2.5))
	assert.Equal(t, "0", formatPoints(0))
}

func TestTitleCase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "In Progress", titleCase("in_progress"))
	assert.Equal(t, "Completed", titleCase("completed"))
}
