package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(identity{DisplayName: "Alice", EmailAddress: "alice@example.com"})
}

func TestNegotiate_TokenShortCircuit(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/rest/api/2/myself", r.URL.Path)
		assert.Equal(t, "Bearer pat-123", r.Header.Get("Authorization"))
		identityResponse(w)
	}))
	defer server.Close()

	client := NewClient(server.URL, Credential{PersonalToken: "pat-123"})
	sess, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemeToken, sess.Scheme)
	assert.Equal(t, 2, sess.APIVersion)
	assert.Equal(t, server.URL+"/rest/api/2", sess.APIRoot)
	assert.Equal(t, 1, requests, "token success must skip all further probes")
}

func TestNegotiate_FallsThroughToHeaderV2(t *testing.T) {
	// Reject the first three candidates so the fourth (header + v2) wins.
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 4 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/rest/api/2/myself", r.URL.Path)
		identityResponse(w)
	}))
	defer server.Close()

	client := NewClient(server.URL, Credential{Username: "user@example.com", APIToken: "tok"})
	sess, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemeHeader, sess.Scheme)
	assert.Equal(t, 2, sess.APIVersion)
	assert.Equal(t, 4, requests, "probing must stop at the first success")

	// Re-negotiating returns the existing session without new probes.
	again, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, 4, requests)
}

func TestNegotiate_V2Only(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/2/myself" {
			identityResponse(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, Credential{Username: "u", APIToken: "t"})
	sess, err := client.Negotiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sess.APIVersion)
	assert.Equal(t, SchemeBasic, sess.Scheme)
}

func TestNegotiate_AllRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, Credential{
		Username: "u", APIToken: "t", PersonalToken: "pat",
	})
	_, err := client.Negotiate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	// Bearer probe plus the four basic/header candidates.
	assert.Len(t, authErr.Probes, 5)
	for _, p := range authErr.Probes {
		assert.Equal(t, http.StatusUnauthorized, p.Status)
	}
	assert.Contains(t, authErr.Diagnostic(), "401")
	assert.Nil(t, client.Session())
}

func TestNegotiate_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse every connection

	client := NewClient(server.URL, Credential{Username: "u", APIToken: "t"})
	_, err := client.Negotiate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Len(t, authErr.Probes, 4)
	for _, p := range authErr.Probes {
		assert.Zero(t, p.Status)
		assert.Error(t, p.Err)
	}
	assert.Contains(t, authErr.Diagnostic(), "connectivity")
}

func TestNegotiate_OAuthIsDocumentedNoop(t *testing.T) {
	t.Parallel()
	client := NewClient("http://jira.invalid", Credential{
		OAuth: &OAuthConfig{ConsumerKey: "ck", ConsumerSecret: "cs"},
	})
	_, err := client.Negotiate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Len(t, authErr.Probes, 1)
	assert.Equal(t, "OAuth 1.0a", authErr.Probes[0].Name)
	assert.ErrorContains(t, authErr.Probes[0].Err, "not implemented")
}

func TestNegotiate_NoCredentialMaterial(t *testing.T) {
	t.Parallel()
	client := NewClient("http://jira.invalid", Credential{})
	_, err := client.Negotiate(context.Background())
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, authErr.Probes)
	assert.Contains(t, authErr.Diagnostic(), "no authentication method")
}

func TestCredential_Shapes(t *testing.T) {
	t.Parallel()
	assert.True(t, Credential{}.Empty())
	assert.True(t, Credential{Username: "u", APIToken: "t"}.HasBasic())
	assert.False(t, Credential{Username: "u"}.HasBasic())
	assert.True(t, Credential{PersonalToken: "p"}.HasToken())
	assert.True(t, Credential{OAuth: &OAuthConfig{ConsumerKey: "k", ConsumerSecret: "s"}}.HasOAuth())
	assert.False(t, Credential{OAuth: &OAuthConfig{ConsumerKey: "k"}}.HasOAuth())
}
