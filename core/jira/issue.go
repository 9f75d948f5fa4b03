package jira

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/statuspulse/statuspulse/core/extract"
)

// descriptionLimit caps the description text carried on a normalized issue.
const descriptionLimit = 500

// Issue is the normalized record both retrieval paths converge on. Mandatory
// fields are Key, Summary, Status and Priority; a raw record missing any of
// them is dropped rather than emitted malformed. Immutable after parse.
type Issue struct {
	Key         string     `json:"key"`
	Summary     string     `json:"summary"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Priority    string     `json:"priority"`
	Created     time.Time  `json:"created"`
	Updated     time.Time  `json:"updated"`
	Project     string     `json:"project"`
	Type        string     `json:"type"`
	StoryPoints *float64   `json:"story_points,omitempty"`
	Components  []string   `json:"components,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Description string     `json:"description,omitempty"`
}

// libraryIssue is the typed decode shape used by token-negotiated sessions.
// Custom fields (story points live in a deployment-specific customfield_*)
// are captured separately because their names are not known at compile time.
type libraryIssue struct {
	Key    string        `json:"key"`
	Fields libraryFields `json:"fields"`
}

type libraryFields struct {
	Summary     string          `json:"summary"`
	Status      namedField      `json:"status"`
	Assignee    *userField      `json:"assignee"`
	Priority    namedField      `json:"priority"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
	Project     keyedField      `json:"project"`
	IssueType   namedField      `json:"issuetype"`
	Components  []namedField    `json:"components"`
	Labels      []string        `json:"labels"`
	Description json.RawMessage `json:"description"`

	// Custom holds customfield_* values keyed by field id.
	Custom map[string]any `json:"-"`
}

type namedField struct {
	Name string `json:"name"`
}

type userField struct {
	DisplayName string `json:"displayName"`
}

type keyedField struct {
	Key string `json:"key"`
}

func (f *libraryFields) UnmarshalJSON(b []byte) error {
	type plain libraryFields
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	*f = libraryFields(p)
	for k, v := range all {
		if strings.HasPrefix(k, "customfield_") && v != nil {
			if f.Custom == nil {
				f.Custom = map[string]any{}
			}
			f.Custom[k] = v
		}
	}
	return nil
}

// issueFromLibrary normalizes a typed record. Optional nested fields go
// through the extractor so a partially-filled record degrades instead of
// failing.
func issueFromLibrary(rec libraryIssue, pointsField string) (Issue, error) {
	issue, err := issueCommon(rec)
	if err != nil {
		return Issue{}, err
	}
	issue.Components = fieldNames(rec.Fields.Components)
	issue.Labels = rec.Fields.Labels
	issue.Description = truncate(adfText(decodeRaw(rec.Fields.Description)), descriptionLimit)
	if pointsField != "" {
		if pts, ok := toFloat(rec.Fields.Custom[pointsField]); ok {
			issue.StoryPoints = &pts
		}
	}
	return issue, nil
}

// issueFromRaw normalizes a map-backed record from the raw-HTTP path.
func issueFromRaw(rec map[string]any, pointsField string) (Issue, error) {
	issue, err := issueCommon(rec)
	if err != nil {
		return Issue{}, err
	}
	issue.Components = fieldNames(extract.Get(rec, "fields.components", nil))
	issue.Labels = extract.GetStringSlice(rec, "fields.labels")
	issue.Description = truncate(adfText(extract.Get(rec, "fields.description", nil)), descriptionLimit)
	if pointsField != "" {
		if pts, ok := toFloat(extract.Get(rec, "fields."+pointsField, nil)); ok {
			issue.StoryPoints = &pts
		}
	}
	return issue, nil
}

// issueCommon extracts the fields whose dotted paths are identical across
// both record shapes. Mandatory fields missing here drop the record.
func issueCommon(rec any) (Issue, error) {
	key := extract.GetString(rec, "key", "")
	summary := extract.GetString(rec, "fields.summary", "")
	status := extract.GetString(rec, "fields.status.name", "")
	priority := extract.GetString(rec, "fields.priority.name", "")
	if key == "" || summary == "" || status == "" || priority == "" {
		return Issue{}, fmt.Errorf("record %q missing mandatory fields", key)
	}

	created, err := parseTime(extract.GetString(rec, "fields.created", ""))
	if err != nil {
		return Issue{}, fmt.Errorf("record %s: bad created timestamp: %w", key, err)
	}
	updated, err := parseTime(extract.GetString(rec, "fields.updated", ""))
	if err != nil {
		return Issue{}, fmt.Errorf("record %s: bad updated timestamp: %w", key, err)
	}

	project := extract.GetString(rec, "fields.project.key", "")
	if project == "" {
		// Issue keys are project-prefixed; fall back to the prefix.
		project, _, _ = strings.Cut(key, "-")
	}

	return Issue{
		Key:      key,
		Summary:  summary,
		Status:   status,
		Assignee: extract.GetString(rec, "fields.assignee.displayName", ""),
		Priority: priority,
		Created:  created,
		Updated:  updated,
		Project:  project,
		Type:     extract.GetString(rec, "fields.issuetype.name", ""),
	}, nil
}

// timeLayouts covers the timestamp shapes Jira deployments emit: the classic
// millisecond+offset format, RFC 3339 with or without sub-seconds, and naive
// strings without any offset (interpreted as UTC).
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime normalizes a wire timestamp to UTC.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// adfText flattens a description value to plain text. API v2 returns a plain
// string; API v3 returns an Atlassian Document Format tree whose text nodes
// are collected in order.
func adfText(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case map[string]any:
		var sb strings.Builder
		collectADF(d, &sb)
		return sb.String()
	default:
		return ""
	}
}

func collectADF(node map[string]any, sb *strings.Builder) {
	if text, ok := node["text"].(string); ok {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(text)
	}
	children, _ := node["content"].([]any)
	for _, child := range children {
		if m, ok := child.(map[string]any); ok {
			collectADF(m, sb)
		}
	}
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// fieldNames pulls the "name" of each element in a component-style list,
// accepting typed slices, []any of maps, and bare strings.
func fieldNames(v any) []string {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if s, ok := elem.(string); ok {
			out = append(out, s)
			continue
		}
		if name := extract.GetString(elem, "name", ""); name != "" {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// truncate caps s at limit bytes without splitting a multi-byte rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
