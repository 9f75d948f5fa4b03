package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `# Analysis

## Executive Summary

The team closed most planned work this cycle.
Velocity is trending up.

## Key Insights

- Backend work dominates the board
- Two issues have been blocked for over a week
1. Numbered items also count

## Team Performance

Workload is evenly spread across three engineers.

## Recommendations

* Rotate review duty
* Split PROJ-9 into smaller tasks

## Risk Assessment

The auth migration may slip into next cycle.
`

func TestParseInsights_Sections(t *testing.T) {
	t.Parallel()
	in := ParseInsights(sampleResponse)

	assert.Equal(t, "The team closed most planned work this cycle. Velocity is trending up.", in.ExecutiveSummary)
	assert.Equal(t, []string{
		"Backend work dominates the board",
		"Two issues have been blocked for over a week",
		"Numbered items also count",
	}, in.KeyInsights)
	assert.Equal(t, "Workload is evenly spread across three engineers.", in.TeamPerformance)
	assert.Equal(t, []string{"Rotate review duty", "Split PROJ-9 into smaller tasks"}, in.Recommendations)
	assert.Equal(t, "The auth migration may slip into next cycle.", in.RiskAssessment)
	assert.Equal(t, sampleResponse, in.FullResponse)
	assert.False(t, in.Empty())
}

func TestParseInsights_UnknownHeaderEndsSection(t *testing.T) {
	t.Parallel()
	in := ParseInsights("## Executive Summary\n\nGood progress.\n\n## Appendix\n\nIgnore me.\n")
	assert.Equal(t, "Good progress.", in.ExecutiveSummary)
	assert.NotContains(t, in.ExecutiveSummary, "Ignore me")
}

func TestParseInsights_EmptyInput(t *testing.T) {
	t.Parallel()
	in := ParseInsights("")
	assert.True(t, in.Empty())
}

func TestBuildPrompt_IncludesStatsAndTasks(t *testing.T) {
	t.Parallel()
	summary := sampleSummary()
	issues := summary.ThisWeek

	prompt := BuildPrompt(summary, issues)
	assert.Contains(t, prompt, "- Total Tasks: 3")
	assert.Contains(t, prompt, "completed: 1")
	assert.Contains(t, prompt, "1. **P-1** - summary P-1")
	assert.Contains(t, prompt, "   - Assignee: Alice")
	assert.Contains(t, prompt, "## Analysis Request")
}

func TestWritePacketAndLoadResponse(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	summary := sampleSummary()

	promptPath, err := WritePacket(dir, summary, summary.ThisWeek, testNow)
	require.NoError(t, err)
	assert.FileExists(t, promptPath)
	assert.FileExists(t, filepath.Join(dir, "insights", "analysis_20250620_120000.json"))

	// No response dropped yet.
	got, err := LoadLatestResponse(dir)
	require.NoError(t, err)
	assert.Nil(t, got)

	older := filepath.Join(dir, "insights", "response_20250620_120000.md")
	require.NoError(t, os.WriteFile(older, []byte("## Executive Summary\n\nOld.\n"), 0o644))
	newer := filepath.Join(dir, "insights", "response_20250621_120000.md")
	require.NoError(t, os.WriteFile(newer, []byte("## Executive Summary\n\nNew.\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(newer, future, future))

	got, err = LoadLatestResponse(dir)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "New.", got.ExecutiveSummary)
}

func TestRenderEnhanced(t *testing.T) {
	t.Parallel()
	summary := sampleSummary()
	insights := Insights{
		ExecutiveSummary: "Strong cycle overall.",
		KeyInsights:      []string{"Throughput up 20%"},
		Recommendations:  []string{"Keep pairing"},
	}

	out := RenderEnhanced(summary, testNow, insights)
	assert.Contains(t, out, "# Bi-Weekly Status Update - 2025-06-20")
	assert.Contains(t, out, "## 🤖 Analysis & Insights")
	assert.Contains(t, out, "Strong cycle overall.")
	assert.Contains(t, out, "- Throughput up 20%")
	assert.Contains(t, out, "- Keep pairing")
}

func TestRenderEnhanced_EmptyInsightsFallsBack(t *testing.T) {
	t.Parallel()
	summary := sampleSummary()
	assert.Equal(t, Render(summary, testNow), RenderEnhanced(summary, testNow, Insights{FullResponse: "raw"}))
}
