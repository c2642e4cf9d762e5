package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/firecloud-go/internal/jsonvalue"
)

// TokenLifetime is how long an issued access token is treated as fresh.
const TokenLifetime = time.Hour

// invalidPlaceholder is what a cleared credential field may hold.
const invalidPlaceholder = "<invalid>"

// Identity API paths. Both are keyed by the API key in the query string,
// not by a bearer token.
const (
	loginPath   = "/identitytoolkit/v3/relyingparty/verifyPassword"
	refreshPath = "/v1/token"
)

// Credentials is the state produced by Login and RefreshLogin.
type Credentials struct {
	UserID        string
	AccessToken   string
	RefreshToken  string
	SessionTicket string
	IssuedAt      time.Time
	Global        bool
}

// Identity owns the credentials for one account. Resource clients hold a
// pointer to it and read the current token on every request; only Login,
// RefreshLogin and SetCredentials write.
//
// The mutex only keeps reads from observing a half-written update. Callers
// should still not log in while requests that need the old token are in
// flight. Identity never refreshes on its own: once IsLoggedIn reports
// false, call RefreshLogin.
type Identity struct {
	apiKey    string
	endpoints Endpoints
	opts      Options
	logger    *slog.Logger

	// now returns the current time. Tests override it.
	now func() time.Time

	mu      sync.RWMutex
	creds   Credentials
	traffic Traffic
}

// NewIdentity creates an Identity for the given API key.
func NewIdentity(apiKey string, opts Options) *Identity {
	opts = opts.withDefaults()

	return &Identity{
		apiKey:    apiKey,
		endpoints: opts.Endpoints,
		opts:      opts,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// Credentials returns a snapshot of the current credentials.
func (id *Identity) Credentials() Credentials {
	id.mu.RLock()
	defer id.mu.RUnlock()

	return id.creds
}

// SetCredentials replaces the current credentials, e.g. with a token
// obtained elsewhere.
func (id *Identity) SetCredentials(c Credentials) {
	id.mu.Lock()
	id.creds = c
	id.mu.Unlock()
}

// AccessToken returns the current access token, or "" when there is none.
func (id *Identity) AccessToken() string {
	id.mu.RLock()
	defer id.mu.RUnlock()

	if id.creds.AccessToken == invalidPlaceholder {
		return ""
	}

	return id.creds.AccessToken
}

// Traffic returns the byte counts of the last login or refresh exchange.
func (id *Identity) Traffic() Traffic {
	id.mu.RLock()
	defer id.mu.RUnlock()

	return id.traffic
}

// IsLoggedIn reports whether a user id and access token are present and the
// token is younger than TokenLifetime. Freshness is evaluated on every call.
func (id *Identity) IsLoggedIn() bool {
	c := id.Credentials()

	if c.UserID == "" || c.UserID == invalidPlaceholder {
		return false
	}

	if c.AccessToken == "" || c.AccessToken == invalidPlaceholder {
		return false
	}

	return id.now().Sub(c.IssuedAt) < TokenLifetime
}

// Token implements oauth2.TokenSource. It reports the held token without
// refreshing it; an empty AccessToken means not logged in.
func (id *Identity) Token() (*oauth2.Token, error) {
	c := id.Credentials()

	tok := &oauth2.Token{
		AccessToken:  id.AccessToken(),
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
	}
	if !c.IssuedAt.IsZero() {
		tok.Expiry = c.IssuedAt.Add(TokenLifetime)
	}

	return tok, nil
}

// Login exchanges an email and password for a long-lived token. Existing
// credentials are discarded first, so a failed login leaves the Identity
// logged out.
func (id *Identity) Login(ctx context.Context, email, password string) error {
	id.SetCredentials(Credentials{})

	id.logger.Info("logging in", slog.String("email", email))

	req := jsonvalue.NewObject().
		Set("email", jsonvalue.String(email)).
		Set("password", jsonvalue.String(password)).
		Set("returnSecureToken", jsonvalue.Bool(true))

	resp, err := id.exchange(ctx, id.endpoints.IdentityURL, loginPath, req)
	if err != nil {
		return fmt.Errorf("cloud: login: %w", err)
	}

	// Field names are defined by the identity API.
	fields, err := stringFields(resp, "localId", "idToken", "refreshToken")
	if err != nil {
		return fmt.Errorf("cloud: login: %w", err)
	}

	id.mu.Lock()
	id.creds = Credentials{
		UserID:       fields[0],
		AccessToken:  fields[1],
		RefreshToken: fields[2],
		IssuedAt:     id.now(),
	}
	id.mu.Unlock()

	id.logger.Info("login successful", slog.String("user_id", fields[0]))

	return nil
}

// RefreshLogin trades the refresh token for a new access token. The user id
// is left as is.
func (id *Identity) RefreshLogin(ctx context.Context) error {
	c := id.Credentials()

	id.logger.Info("refreshing login", slog.String("user_id", c.UserID))

	req := jsonvalue.NewObject().
		Set("grant_type", jsonvalue.String("refresh_token")).
		Set("refresh_token", jsonvalue.String(c.RefreshToken))

	resp, err := id.exchange(ctx, id.endpoints.TokenURL, refreshPath, req)
	if err != nil {
		return fmt.Errorf("cloud: refresh login: %w", err)
	}

	fields, err := stringFields(resp, "id_token", "refresh_token")
	if err != nil {
		return fmt.Errorf("cloud: refresh login: %w", err)
	}

	id.mu.Lock()
	id.creds.AccessToken = fields[0]
	id.creds.RefreshToken = fields[1]
	id.creds.IssuedAt = id.now()
	id.mu.Unlock()

	id.logger.Info("login refreshed", slog.String("user_id", c.UserID))

	return nil
}

// exchange posts req over a one-shot, unauthenticated session.
func (id *Identity) exchange(ctx context.Context, host, path string, req *jsonvalue.Object) (*jsonvalue.Object, error) {
	s := newSession(sessionConfig{baseURL: host, opts: id.opts})
	if id.opts.HTTPClient == nil {
		defer s.httpClient.CloseIdleConnections()
	}

	resp, err := s.ExecuteJSON(ctx, http.MethodPost, path+"?key="+url.QueryEscape(id.apiKey), jsonvalue.ObjectValue(req))

	id.mu.Lock()
	id.traffic = s.Traffic()
	id.mu.Unlock()

	if err != nil {
		return nil, err
	}

	obj, ok := resp.AsObject()
	if !ok {
		return nil, fmt.Errorf("%w: response is %s, want object", ErrDecode, resp.Kind())
	}

	return obj, nil
}

// stringFields extracts the named string members of a response, in order.
func stringFields(obj *jsonvalue.Object, keys ...string) ([]string, error) {
	out := make([]string, len(keys))

	for i, key := range keys {
		v, err := stringField(obj, key)
		if err != nil {
			return nil, err
		}

		out[i] = v
	}

	return out, nil
}

func stringField(obj *jsonvalue.Object, key string) (string, error) {
	v, ok := obj.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: response missing %q", ErrDecode, key)
	}

	s, ok := v.AsString()
	if !ok {
		return "", fmt.Errorf("%w: response field %q is %s, want string", ErrDecode, key, v.Kind())
	}

	return s, nil
}
