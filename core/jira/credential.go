package jira

// OAuthConfig holds OAuth 1.0a consumer credentials. Negotiation with these is
// a documented no-op: Jira's 3-legged OAuth needs an application link set up by
// an administrator, so the negotiator records the limitation in its probe
// history instead of attempting a signature flow.
type OAuthConfig struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Credential describes the authentication material available to a client.
// Exactly which fields are set determines which probes the negotiator runs:
// PersonalToken enables the bearer short-circuit, Username+APIToken enable the
// basic-auth candidate matrix, OAuth is recorded but not attempted. Immutable
// once constructed.
type Credential struct {
	// Username and APIToken form a basic-auth pair (Jira Cloud style:
	// email + API token).
	Username string
	APIToken string

	// PersonalToken is a bearer/personal access token (Jira Data Center
	// style), sent as "Authorization: Bearer <token>".
	PersonalToken string

	OAuth *OAuthConfig
}

// HasBasic reports whether a username/token pair is available.
func (c Credential) HasBasic() bool {
	return c.Username != "" && c.APIToken != ""
}

// HasToken reports whether a personal access token is available.
func (c Credential) HasToken() bool {
	return c.PersonalToken != ""
}

// HasOAuth reports whether OAuth consumer credentials are configured.
func (c Credential) HasOAuth() bool {
	return c.OAuth != nil && c.OAuth.ConsumerKey != "" && c.OAuth.ConsumerSecret != ""
}

// Empty reports whether no usable credential material is present.
func (c Credential) Empty() bool {
	return !c.HasBasic() && !c.HasToken() && !c.HasOAuth()
}
