package cloud

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	svc, fake := newFakeService(t)

	require.NoError(t, svc.Identity.Login(t.Context(), testEmail, testPassword))

	c := svc.Identity.Credentials()
	assert.NotEmpty(t, c.UserID)
	assert.NotEmpty(t, c.AccessToken)
	assert.NotEmpty(t, c.RefreshToken)
	assert.False(t, c.IssuedAt.IsZero())
	assert.True(t, svc.Identity.IsLoggedIn())

	req := fake.LastRequest()
	assert.Equal(t, loginPath, req.Path)

	q, err := url.ParseQuery(req.RawQuery)
	require.NoError(t, err)
	assert.Equal(t, testAPIKey, q.Get("key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	tr := svc.Identity.Traffic()
	assert.Positive(t, tr.Sent)
	assert.Positive(t, tr.Received)
}

func TestLogin_FailureClearsStaleCredentials(t *testing.T) {
	svc, _ := newFakeService(t)

	svc.Identity.SetCredentials(Credentials{
		UserID:       "old-user",
		AccessToken:  "old-token",
		RefreshToken: "old-refresh",
		IssuedAt:     time.Now(),
	})
	require.True(t, svc.Identity.IsLoggedIn())

	err := svc.Identity.Login(t.Context(), testEmail, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, Credentials{}, svc.Identity.Credentials())
	assert.False(t, svc.Identity.IsLoggedIn())
	assert.Empty(t, svc.Identity.AccessToken())
}

func TestLogin_MissingResponseField(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(http.StatusOK, `{"localId":"u1","refreshToken":"r"}`))
	defer srv.Close()

	id := NewIdentity(testAPIKey, Options{
		HTTPClient: srv.Client(),
		Logger:     testLogger(t),
		Endpoints:  Endpoints{IdentityURL: srv.URL},
	})

	err := id.Login(t.Context(), testEmail, testPassword)
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "idToken")
	assert.False(t, id.IsLoggedIn())
}

func TestIsLoggedIn_Freshness(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		creds Credentials
		now   time.Time
		want  bool
	}{
		{"fresh", Credentials{UserID: "u", AccessToken: "t", IssuedAt: issued}, issued.Add(59 * time.Minute), true},
		{"just expired", Credentials{UserID: "u", AccessToken: "t", IssuedAt: issued}, issued.Add(TokenLifetime), false},
		{"stale", Credentials{UserID: "u", AccessToken: "t", IssuedAt: issued}, issued.Add(2 * time.Hour), false},
		{"no user", Credentials{AccessToken: "t", IssuedAt: issued}, issued, false},
		{"no token", Credentials{UserID: "u", IssuedAt: issued}, issued, false},
		{"placeholder user", Credentials{UserID: invalidPlaceholder, AccessToken: "t", IssuedAt: issued}, issued, false},
		{"placeholder token", Credentials{UserID: "u", AccessToken: invalidPlaceholder, IssuedAt: issued}, issued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewIdentity(testAPIKey, Options{Logger: testLogger(t)})
			id.now = func() time.Time { return tt.now }
			id.SetCredentials(tt.creds)

			assert.Equal(t, tt.want, id.IsLoggedIn())
		})
	}
}

func TestIsLoggedIn_EvaluatedOnEveryCall(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := issued

	id := NewIdentity(testAPIKey, Options{Logger: testLogger(t)})
	id.now = func() time.Time { return now }
	id.SetCredentials(Credentials{UserID: "u", AccessToken: "t", IssuedAt: issued})

	assert.True(t, id.IsLoggedIn())

	now = issued.Add(61 * time.Minute)
	assert.False(t, id.IsLoggedIn())
}

func TestRefreshLogin(t *testing.T) {
	svc, fake := newFakeService(t)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.Identity.now = func() time.Time { return clock }

	require.NoError(t, svc.Identity.Login(t.Context(), testEmail, testPassword))

	before := svc.Identity.Credentials()

	clock = clock.Add(2 * time.Hour)
	require.False(t, svc.Identity.IsLoggedIn())

	require.NoError(t, svc.Identity.RefreshLogin(t.Context()))

	after := svc.Identity.Credentials()
	assert.Equal(t, before.UserID, after.UserID)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, clock, after.IssuedAt)
	assert.True(t, svc.Identity.IsLoggedIn())

	assert.Equal(t, refreshPath, fake.LastRequest().Path)
	assert.Contains(t, string(fake.LastRequest().Body), `"grant_type":"refresh_token"`)
}

func TestRefreshLogin_RejectedToken(t *testing.T) {
	svc, _ := newFakeService(t)

	svc.Identity.SetCredentials(Credentials{UserID: "u", RefreshToken: "bogus"})

	err := svc.Identity.RefreshLogin(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestToken_ImplementsTokenSource(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id := NewIdentity(testAPIKey, Options{Logger: testLogger(t)})
	id.SetCredentials(Credentials{UserID: "u", AccessToken: "tok", RefreshToken: "r", IssuedAt: issued})

	tok, err := id.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, issued.Add(TokenLifetime), tok.Expiry)

	id.SetCredentials(Credentials{})

	tok, err = id.Token()
	require.NoError(t, err)
	assert.Empty(t, tok.AccessToken)
	assert.True(t, tok.Expiry.IsZero())
}
