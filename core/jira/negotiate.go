package jira

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// probeTimeout bounds each identity probe; searches get a longer budget.
const probeTimeout = 15 * time.Second

// Scheme identifies how a negotiated session carries its credential.
type Scheme string

const (
	// SchemeToken sends "Authorization: Bearer <token>". Sessions negotiated
	// this way use the typed ("library") parse path for search results.
	SchemeToken Scheme = "token"
	// SchemeBasic uses the transport's native basic-auth parameter.
	SchemeBasic Scheme = "basic"
	// SchemeHeader sends a pre-encoded "Authorization: Basic ..." header.
	SchemeHeader Scheme = "header"
)

// Session is the working combination discovered by Negotiate: which scheme
// succeeded, which API major version responded, and the resolved API root.
// It is created only after a 200 from the identity endpoint, written once,
// and read-only thereafter.
type Session struct {
	Scheme     Scheme
	APIVersion int
	APIRoot    string

	username   string
	secret     string
	authHeader string
}

// apply attaches the session's credential to an outgoing request.
func (s *Session) apply(req *http.Request) {
	switch s.Scheme {
	case SchemeBasic:
		req.SetBasicAuth(s.username, s.secret)
	default:
		req.Header.Set("Authorization", s.authHeader)
	}
}

// Probe records the outcome of one authentication candidate. Status is zero
// when the request failed below HTTP (timeout, TLS, connection refused), in
// which case Err holds the transport error.
type Probe struct {
	Name       string
	Scheme     Scheme
	APIVersion int
	Status     int
	Err        error
}

func (p Probe) String() string {
	if p.Err != nil {
		return fmt.Sprintf("%s: %v", p.Name, p.Err)
	}
	return fmt.Sprintf("%s: HTTP %d", p.Name, p.Status)
}

// AuthError means no credential/version/transport combination produced a
// working session. It carries the full probe history for diagnostics.
type AuthError struct {
	Probes []Probe
}

func (e *AuthError) Error() string {
	parts := make([]string, len(e.Probes))
	for i, p := range e.Probes {
		parts[i] = p.String()
	}
	return "jira authentication failed: " + strings.Join(parts, "; ")
}

// Diagnostic returns one operator-facing sentence distinguishing credential,
// permission, endpoint and connectivity failures, since each needs a
// different remediation.
func (e *AuthError) Diagnostic() string {
	var unauthorized, forbidden, notFound, network, attempted int
	for _, p := range e.Probes {
		if p.Err != nil && p.Status == 0 {
			network++
		}
		switch p.Status {
		case http.StatusUnauthorized:
			unauthorized++
		case http.StatusForbidden:
			forbidden++
		case http.StatusNotFound:
			notFound++
		}
		attempted++
	}
	switch {
	case attempted == 0:
		return "no authentication method was attempted: configure a username/API token pair or a personal access token"
	case network == attempted:
		return "could not reach the tracker at all: check the base URL, VPN and network connectivity"
	case unauthorized > 0:
		return "every authentication attempt was rejected (401): verify the username and that the token is correct and not expired"
	case forbidden > 0:
		return "the tracker refused access (403): the account lacks permission for the API"
	case notFound == attempted:
		return "no known API endpoint responded (404): verify the base URL points at a Jira deployment"
	default:
		return "authentication failed for mixed reasons: inspect the probe history for per-candidate detail"
	}
}

// identity is the subset of the /myself response used to confirm a session.
type identity struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Client talks to one Jira deployment. It owns the session it negotiates;
// sessions are never shared across clients.
type Client struct {
	BaseURL    string
	Credential Credential

	// HTTPClient is used for all requests. Defaults to a client with the
	// probe timeout; tests substitute an httptest server via BaseURL.
	HTTPClient *http.Client

	session *Session
}

// NewClient builds a client for the deployment at baseURL. Trailing slashes
// are dropped so API roots concatenate cleanly.
func NewClient(baseURL string, cred Credential) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Credential: cred,
		HTTPClient: &http.Client{Timeout: probeTimeout},
	}
}

// Session returns the negotiated session, or nil before Negotiate succeeds.
func (c *Client) Session() *Session {
	return c.session
}

type candidate struct {
	name       string
	scheme     Scheme
	apiVersion int
}

// Negotiate discovers a working session. A personal access token is tried
// first and short-circuits on success; otherwise an ordered candidate list
// crossing {v3, v2} x {native basic auth, pre-encoded header} is probed
// against the identity endpoint. Probing stops at the first 200. Once a
// session exists, Negotiate returns it without re-probing.
func (c *Client) Negotiate(ctx context.Context) (*Session, error) {
	if c.session != nil {
		return c.session, nil
	}

	var probes []Probe

	if c.Credential.HasToken() {
		sess := &Session{
			Scheme:     SchemeToken,
			APIVersion: 2,
			APIRoot:    fmt.Sprintf("%s/rest/api/2", c.BaseURL),
			authHeader: "Bearer " + c.Credential.PersonalToken,
		}
		probe := c.probe(ctx, "Bearer Token + API v2", sess)
		probes = append(probes, probe)
		if probe.Status == http.StatusOK {
			c.session = sess
			return sess, nil
		}
	}

	if c.Credential.HasBasic() {
		encoded := base64.StdEncoding.EncodeToString(
			[]byte(c.Credential.Username + ":" + c.Credential.APIToken))

		candidates := []candidate{
			{"Basic Auth + API v3", SchemeBasic, 3},
			{"Basic Auth + API v2", SchemeBasic, 2},
			{"Authorization Header + API v3", SchemeHeader, 3},
			{"Authorization Header + API v2", SchemeHeader, 2},
		}

		for _, cand := range candidates {
			sess := &Session{
				Scheme:     cand.scheme,
				APIVersion: cand.apiVersion,
				APIRoot:    fmt.Sprintf("%s/rest/api/%d", c.BaseURL, cand.apiVersion),
				username:   c.Credential.Username,
				secret:     c.Credential.APIToken,
				authHeader: "Basic " + encoded,
			}
			probe := c.probe(ctx, cand.name, sess)
			probes = append(probes, probe)
			if probe.Status == http.StatusOK {
				c.session = sess
				return sess, nil
			}
		}
	}

	if c.Credential.HasOAuth() {
		// Intentionally not implemented: 3-legged OAuth requires an
		// application link configured in the Jira admin panel.
		probes = append(probes, Probe{
			Name:   "OAuth 1.0a",
			Scheme: "oauth",
			Err:    fmt.Errorf("oauth negotiation is not implemented; configure an application link and use a token instead"),
		})
		slog.Warn("OAuth credentials configured but OAuth negotiation is not implemented")
	}

	return nil, &AuthError{Probes: probes}
}

// probe issues one GET against the candidate session's identity endpoint.
func (c *Client) probe(ctx context.Context, name string, sess *Session) Probe {
	p := Probe{Name: name, Scheme: sess.Scheme, APIVersion: sess.APIVersion}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, sess.APIRoot+"/myself", nil)
	if err != nil {
		p.Err = err
		return p
	}
	req.Header.Set("Accept", "application/json")
	sess.apply(req)

	slog.Debug("Probing authentication candidate", "candidate", name, "url", req.URL.String())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		p.Err = err
		slog.Debug("Probe failed", "candidate", name, "error", err)
		return p
	}
	defer func() { _ = resp.Body.Close() }()

	p.Status = resp.StatusCode
	if resp.StatusCode == http.StatusOK {
		var id identity
		if err := json.NewDecoder(resp.Body).Decode(&id); err == nil && id.DisplayName != "" {
			slog.Info("Authentication successful",
				"candidate", name, "user", id.DisplayName, "email", id.EmailAddress)
		} else {
			slog.Info("Authentication successful", "candidate", name)
		}
	} else {
		slog.Debug("Probe rejected", "candidate", name, "status", resp.StatusCode)
	}
	return p
}
