package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/statuspulse/statuspulse/core/jira"
)

const (
	insightsDirName = "insights"
	promptTasks     = 10
)

// Insights holds the narrative sections layered on top of the statistical
// summary. They come back from an external analysis pass; the pipeline treats
// them as optional.
type Insights struct {
	ExecutiveSummary string   `json:"executive_summary"`
	KeyInsights      []string `json:"key_insights"`
	TeamPerformance  string   `json:"team_performance"`
	Recommendations  []string `json:"recommendations"`
	RiskAssessment   string   `json:"risk_assessment"`
	FullResponse     string   `json:"full_response"`
}

// Empty reports whether no section was populated.
func (in Insights) Empty() bool {
	return in.ExecutiveSummary == "" && len(in.KeyInsights) == 0 &&
		in.TeamPerformance == "" && len(in.Recommendations) == 0 &&
		in.RiskAssessment == ""
}

// BuildPrompt renders the analysis request for a summary and its recent
// issues. The issue list is capped to keep the prompt a manageable size.
func BuildPrompt(summary Summary, issues []jira.Issue) string {
	var sb strings.Builder

	sb.WriteString("# Status Report Analysis Request\n\n")
	sb.WriteString("## Overview\n")
	sb.WriteString("Please analyze this bi-weekly status report and provide insights:\n\n")
	sb.WriteString("## Summary Statistics\n")
	fmt.Fprintf(&sb, "- Total Tasks: %d\n", summary.TotalTasks)
	fmt.Fprintf(&sb, "- Status Distribution: %s\n", formatCounts(summary.ByStatus))
	fmt.Fprintf(&sb, "- Active Projects: %d\n", len(summary.ByProject))
	fmt.Fprintf(&sb, "- Team Members: %d\n", len(summary.ByAssignee))

	sb.WriteString("\n## Recent Tasks\n")
	for i, issue := range TopIssues(issues, promptTasks) {
		assignee := issue.Assignee
		if assignee == "" {
			assignee = Unassigned
		}
		fmt.Fprintf(&sb, "\n%d. **%s** - %s\n", i+1, issue.Key, issue.Summary)
		fmt.Fprintf(&sb, "   - Status: %s\n", issue.Status)
		fmt.Fprintf(&sb, "   - Assignee: %s\n", assignee)
		fmt.Fprintf(&sb, "   - Priority: %s\n", issue.Priority)
		if issue.Description != "" {
			fmt.Fprintf(&sb, "   - Description: %s\n", truncateLine(issue.Description, 100))
		}
	}

	sb.WriteString(`
## Analysis Request
Please provide:

1. **Executive Summary** (2-3 sentences about overall team progress)

2. **Key Insights** (3-5 bullet points about trends, blockers, or notable patterns)

3. **Team Performance** (observations about workload distribution and productivity)

4. **Recommendations** (3-5 actionable suggestions for improving team efficiency)

5. **Risk Assessment** (any potential blockers or concerns to escalate)

Format the response with "## <section name>" headers so it can be parsed back in.
`)
	return sb.String()
}

// WritePacket saves the prompt and the structured summary under the output
// directory so an external tool can pick them up. It returns the prompt path.
func WritePacket(outputDir string, summary Summary, issues []jira.Issue, now time.Time) (string, error) {
	dir := filepath.Join(outputDir, insightsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating insights directory: %w", err)
	}

	stamp := now.Format("20060102_150405")

	data, err := json.MarshalIndent(map[string]any{
		"generated_at": now.Format(time.RFC3339),
		"summary":      summary,
		"tasks":        TopIssues(issues, promptTasks),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding analysis packet: %w", err)
	}
	dataPath := filepath.Join(dir, fmt.Sprintf("analysis_%s.json", stamp))
	if err := os.WriteFile(dataPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing analysis packet: %w", err)
	}

	promptPath := filepath.Join(dir, fmt.Sprintf("prompt_%s.md", stamp))
	if err := os.WriteFile(promptPath, []byte(BuildPrompt(summary, issues)), 0o644); err != nil {
		return "", fmt.Errorf("writing analysis prompt: %w", err)
	}

	slog.Info("Wrote analysis packet", "prompt", promptPath, "data", dataPath)
	return promptPath, nil
}

// LoadLatestResponse looks for the newest response_*.md file under the
// insights directory and parses it. Returns a nil Insights pointer when no
// response has been dropped there yet.
func LoadLatestResponse(outputDir string) (*Insights, error) {
	pattern := filepath.Join(outputDir, insightsDirName, "response_*.md")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("scanning for responses: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	latest := ""
	var latestMod time.Time
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest, latestMod = path, info.ModTime()
		}
	}

	raw, err := os.ReadFile(latest)
	if err != nil {
		return nil, fmt.Errorf("reading response %s: %w", latest, err)
	}

	slog.Info("Loaded analysis response", "path", latest)
	insights := ParseInsights(string(raw))
	return &insights, nil
}

// ParseInsights splits a markdown response into the known sections. Section
// boundaries are "##" headers matched by keyword; bullet sections strip their
// list markers. Unknown headers end the current section without starting one.
func ParseInsights(text string) Insights {
	insights := Insights{FullResponse: text}

	type target struct {
		keywords []string
		assign   func(lines []string)
	}
	targets := []target{
		{[]string{"executive summary", "summary"}, func(l []string) { insights.ExecutiveSummary = strings.Join(l, " ") }},
		{[]string{"key insights", "insights", "findings"}, func(l []string) { insights.KeyInsights = bulletItems(l) }},
		{[]string{"team performance", "performance"}, func(l []string) { insights.TeamPerformance = strings.Join(l, " ") }},
		{[]string{"recommendations", "suggestions"}, func(l []string) { insights.Recommendations = bulletItems(l) }},
		{[]string{"risk assessment", "risks", "concerns"}, func(l []string) { insights.RiskAssessment = strings.Join(l, " ") }},
	}

	match := func(header string) func(lines []string) {
		lower := strings.ToLower(header)
		for _, tgt := range targets {
			for _, kw := range tgt.keywords {
				if strings.Contains(lower, kw) {
					return tgt.assign
				}
			}
		}
		return nil
	}

	var assign func(lines []string)
	var content []string
	flush := func() {
		if assign != nil && len(content) > 0 {
			assign(content)
		}
		assign, content = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "##") {
			flush()
			assign = match(line)
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if assign != nil {
			content = append(content, line)
		}
	}
	flush()

	return insights
}

// RenderEnhanced appends the narrative sections to the base report.
func RenderEnhanced(summary Summary, now time.Time, insights Insights) string {
	base := Render(summary, now)
	if insights.Empty() {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n## 🤖 Analysis & Insights\n")

	if insights.ExecutiveSummary != "" {
		sb.WriteString("\n### Executive Summary\n\n")
		sb.WriteString(insights.ExecutiveSummary + "\n")
	}
	if len(insights.KeyInsights) > 0 {
		sb.WriteString("\n### Key Insights\n\n")
		for _, item := range insights.KeyInsights {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	if insights.TeamPerformance != "" {
		sb.WriteString("\n### Team Performance\n\n")
		sb.WriteString(insights.TeamPerformance + "\n")
	}
	if len(insights.Recommendations) > 0 {
		sb.WriteString("\n### Recommendations\n\n")
		for _, item := range insights.Recommendations {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
	}
	if insights.RiskAssessment != "" {
		sb.WriteString("\n### Risk Assessment\n\n")
		sb.WriteString(insights.RiskAssessment + "\n")
	}
	return sb.String()
}

// bulletItems strips list markers and numbering from section lines. Lines
// without a marker pass through as-is so loosely formatted responses still
// parse.
func bulletItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		item := strings.TrimLeft(line, "•-* \t")
		item = strings.TrimLeft(item, "0123456789")
		item = strings.TrimLeft(item, ". ")
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func formatCounts(m map[string]int) string {
	if len(m) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, fmt.Sprintf("%s: %d", k, m[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func truncateLine(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
