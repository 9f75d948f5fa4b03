package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecord builds a minimal well-formed search record.
func testRecord(key, project string) map[string]any {
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":   "Summary for " + key,
			"status":    map[string]any{"name": "Open"},
			"priority":  map[string]any{"name": "Medium"},
			"created":   "2025-06-01T08:00:00.000+0000",
			"updated":   "2025-06-02T08:00:00.000+0000",
			"project":   map[string]any{"key": project},
			"issuetype": map[string]any{"name": "Task"},
		},
	}
}

func writePage(t *testing.T, w http.ResponseWriter, startAt, total int, records ...map[string]any) {
	t.Helper()
	raws := make([]json.RawMessage, len(records))
	for i, rec := range records {
		b, err := json.Marshal(rec)
		require.NoError(t, err)
		raws[i] = b
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(searchPage{
		StartAt: startAt, MaxResults: searchPageSize, Total: total, Issues: raws,
	}))
}

// negotiatedClient sets up a client whose probes and searches both hit mux.
func negotiatedClient(t *testing.T, mux *http.ServeMux) (*Client, func()) {
	t.Helper()
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		identityResponse(w)
	})
	mux.HandleFunc("/rest/api/3/myself", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)

	client := NewClient(server.URL, Credential{Username: "u", APIToken: "t"})
	_, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	return client, server.Close
}

func TestSearch_PaginatesByReportedTotal(t *testing.T) {
	var offsets []int
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		offsets = append(offsets, startAt)
		assert.Equal(t, strconv.Itoa(searchPageSize), r.URL.Query().Get("maxResults"))

		count := searchPageSize
		if startAt+count > 120 {
			count = 120 - startAt
		}
		records := make([]map[string]any, count)
		for i := range records {
			records[i] = testRecord(fmt.Sprintf("PROJ-%d", startAt+i+1), "PROJ")
		}
		writePage(t, w, startAt, 120, records...)
	})

	client, closeServer := negotiatedClient(t, mux)
	defer closeServer()

	result, err := client.FetchIssues(context.Background(), []string{"PROJ"}, 14)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 50, 100}, offsets, "expected exactly 3 pages at offsets 0, 50, 100")
	assert.Len(t, result.Issues, 120)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.ParseFailures)
}

func TestSearch_MalformedRecordSkipped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		good := testRecord("PROJ-1", "PROJ")
		bad := map[string]any{"key": "PROJ-2", "fields": map[string]any{"summary": "no status"}}
		writePage(t, w, 0, 2, good, bad)
	})

	client, closeServer := negotiatedClient(t, mux)
	defer closeServer()

	result, err := client.FetchIssues(context.Background(), []string{"PROJ"}, 14)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "PROJ-1", result.Issues[0].Key)
	assert.Equal(t, 1, result.ParseFailures)
	assert.Empty(t, result.Errors)
}

func TestSearch_ScopeFailureDoesNotAbortOthers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		jql := r.URL.Query().Get("jql")
		if strings.Contains(jql, `project = "BAD"`) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorMessages":["bad jql"]}`))
			return
		}
		writePage(t, w, 0, 1, testRecord("GOOD-1", "GOOD"))
	})

	client, closeServer := negotiatedClient(t, mux)
	defer closeServer()

	result, err := client.FetchIssues(context.Background(), []string{"GOOD", "BAD"}, 14)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "GOOD-1", result.Issues[0].Key)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "BAD", result.Errors[0].Project)
	assert.Equal(t, http.StatusBadRequest, result.Errors[0].Status)
	assert.Contains(t, result.Errors[0].Diagnostic(), "JQL")
}

func TestSearch_JQLWindow(t *testing.T) {
	var gotJQL string
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		gotJQL = r.URL.Query().Get("jql")
		writePage(t, w, 0, 0)
	})

	client, closeServer := negotiatedClient(t, mux)
	defer closeServer()

	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	_, err := client.Search(context.Background(), SearchOptions{
		Projects: []string{"PROJ"},
		Window:   Window{Since: since, Until: until},
	})
	require.NoError(t, err)
	assert.Equal(t, `project = "PROJ" AND updated >= "2025-06-01" AND updated <= "2025-06-15 23:59" ORDER BY updated DESC`, gotJQL)
}

func TestSearch_StoryPointsFieldRequestedAndParsed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("fields"), "customfield_10016")
		rec := testRecord("PROJ-1", "PROJ")
		rec["fields"].(map[string]any)["customfield_10016"] = 8
		writePage(t, w, 0, 1, rec)
	})

	client, closeServer := negotiatedClient(t, mux)
	defer closeServer()

	result, err := client.Search(context.Background(), SearchOptions{
		Projects:         []string{"PROJ"},
		Window:           Window{Since: time.Now().AddDate(0, 0, -14)},
		StoryPointsField: "customfield_10016",
	})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	require.NotNil(t, result.Issues[0].StoryPoints)
	assert.Equal(t, 8.0, *result.Issues[0].StoryPoints)
}

func TestSearch_TokenSessionUsesTypedPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/2/myself", func(w http.ResponseWriter, r *http.Request) {
		identityResponse(w)
	})
	mux.HandleFunc("/rest/api/2/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat", r.Header.Get("Authorization"))
		writePage(t, w, 0, 1, testRecord("PROJ-1", "PROJ"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, Credential{PersonalToken: "pat"})
	_, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	require.Equal(t, SchemeToken, client.Session().Scheme)

	result, err := client.FetchIssues(context.Background(), []string{"PROJ"}, 14)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "PROJ-1", result.Issues[0].Key)
	assert.Equal(t, "Open", result.Issues[0].Status)
}

func TestSearch_WithoutSession(t *testing.T) {
	t.Parallel()
	client := NewClient("http://jira.invalid", Credential{Username: "u", APIToken: "t"})
	_, err := client.FetchIssues(context.Background(), []string{"PROJ"}, 14)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Negotiate")
}

func TestBuildJQL(t *testing.T) {
	t.Parallel()
	jql := buildJQL("PROJ", Window{Since: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)})
	assert.Equal(t, `project = "PROJ" AND updated >= "2025-01-02" ORDER BY updated DESC`, jql)

	open := buildJQL("PROJ", Window{})
	assert.Equal(t, `project = "PROJ" ORDER BY updated DESC`, open)
}
