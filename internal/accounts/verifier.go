package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devflow-labs/devflow/internal/hostutil"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/version"
)

// DefaultRepoHostURL is the API base used for repo_host when none is set.
const DefaultRepoHostURL = "https://api.github.com"

// Identity is the account owner as reported by the service.
type Identity struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Verifier checks a token against the service's current-user endpoint.
type Verifier struct {
	client *http.Client
}

// NewVerifier creates a verifier. A nil client gets a 30s timeout client.
func NewVerifier(client *http.Client) *Verifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Verifier{client: client}
}

// Verify calls the identity endpoint for rec.Kind and returns who the
// token belongs to. Basic-auth kinds need rec.Email and rec.BaseURL.
func (v *Verifier) Verify(ctx context.Context, rec AccountCredential) (*Identity, error) {
	base := hostutil.Normalize(rec.BaseURL)
	if base == "" && rec.Kind == KindRepoHost {
		base = DefaultRepoHostURL
	}
	if base == "" {
		return nil, output.ErrUsageHint(
			fmt.Sprintf("%s needs a base URL to verify", rec.Kind.Label()),
			"Pass --base-url or set account_base_urls."+string(rec.Kind),
		)
	}
	if rec.Kind.UsesBasicAuth() && rec.Email == "" {
		return nil, output.ErrUsageHint(
			fmt.Sprintf("%s tokens authenticate with an email address", rec.Kind.Label()),
			"Pass --email",
		)
	}

	var path string
	switch rec.Kind {
	case KindRepoHost:
		path = "/user"
	case KindTicketTracker:
		path = "/rest/api/3/myself"
	case KindWiki:
		path = "/rest/api/user/current"
	default:
		return nil, output.ErrUsage(fmt.Sprintf("Unknown account kind %q", rec.Kind))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if rec.Kind.UsesBasicAuth() {
		req.SetBasicAuth(rec.Email, rec.Token)
	} else {
		req.Header.Set("Authorization", "token "+rec.Token)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &output.Error{
			Code:       output.CodeAuth,
			Message:    fmt.Sprintf("%s rejected the token", rec.Kind.Label()),
			Hint:       "Check the token and its scopes",
			HTTPStatus: resp.StatusCode,
		}
	case resp.StatusCode == http.StatusForbidden:
		return nil, output.ErrForbidden(fmt.Sprintf("%s token lacks permission to read the current user", rec.Kind.Label()))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, output.ErrAPI(resp.StatusCode, fmt.Sprintf("%s verification failed: %s", rec.Kind.Label(), strings.TrimSpace(string(body))))
	}

	var body struct {
		Login        string `json:"login"`
		DisplayName  string `json:"displayName"`
		Email        string `json:"email"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse %s identity: %w", rec.Kind, err)
	}

	id := &Identity{Username: body.Login, Email: body.Email}
	if id.Username == "" {
		id.Username = body.DisplayName
	}
	if id.Email == "" {
		id.Email = body.EmailAddress
	}
	return id, nil
}
