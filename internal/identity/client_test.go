package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockIdentity — mock token endpoint и Identity Toolkit.
type mockIdentity struct {
	t           *testing.T
	key         *rsa.PrivateKey
	tokenCalls  atomic.Int32
	users       map[string]map[string]any // email → claims
	uids        map[string]string         // email → uid
	lastUpdate  map[string]any
	lookupError int
}

func newMockIdentity(t *testing.T) (*mockIdentity, *Client) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	m := &mockIdentity{
		t:     t,
		key:   key,
		users: map[string]map[string]any{},
		uids:  map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/v1/projects/demo-project/accounts:lookup", m.handleLookup)
	mux.HandleFunc("/v1/projects/demo-project/accounts:update", m.handleUpdate)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	saJSON, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "demo-project",
		"private_key_id": "kid-1",
		"private_key":    string(pemKey),
		"client_email":   "sa@demo-project.iam.gserviceaccount.com",
		"token_uri":      srv.URL + "/token",
	})
	require.NoError(t, err)

	sa, err := ParseServiceAccount(saJSON)
	require.NoError(t, err)

	client, err := New(srv.URL, "", sa, 5*time.Second, testLogger())
	require.NoError(t, err)
	return m, client
}

func (m *mockIdentity) handleToken(w http.ResponseWriter, r *http.Request) {
	m.tokenCalls.Add(1)
	require.NoError(m.t, r.ParseForm())
	assert.Equal(m.t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))

	token, err := jwt.Parse(r.PostForm.Get("assertion"), func(*jwt.Token) (any, error) {
		return &m.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if !assert.NoError(m.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	claims := token.Claims.(jwt.MapClaims)
	assert.Equal(m.t, "sa@demo-project.iam.gserviceaccount.com", claims["iss"])
	assert.Equal(m.t, "kid-1", token.Header["kid"])

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "ya29.test", "expires_in": 3600})
}

func (m *mockIdentity) handleLookup(w http.ResponseWriter, r *http.Request) {
	assert.Equal(m.t, "Bearer ya29.test", r.Header.Get("Authorization"))
	if m.lookupError != 0 {
		w.WriteHeader(m.lookupError)
		_, _ = w.Write([]byte(`{"error":{"message":"INTERNAL"}}`))
		return
	}
	var req struct {
		Email []string `json:"email"`
	}
	require.NoError(m.t, json.NewDecoder(r.Body).Decode(&req))

	users := []map[string]any{}
	for _, email := range req.Email {
		claims, ok := m.users[email]
		if !ok {
			continue
		}
		attrs, _ := json.Marshal(claims)
		users = append(users, map[string]any{
			"localId": m.uids[email], "email": email, "customAttributes": string(attrs),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if len(users) == 0 {
		_, _ = w.Write([]byte(`{"kind":"identitytoolkit#GetAccountInfoResponse"}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"users": users})
}

func (m *mockIdentity) handleUpdate(w http.ResponseWriter, r *http.Request) {
	assert.Equal(m.t, "Bearer ya29.test", r.Header.Get("Authorization"))
	var req struct {
		LocalID          string `json:"localId"`
		CustomAttributes string `json:"customAttributes"`
	}
	require.NoError(m.t, json.NewDecoder(r.Body).Decode(&req))
	m.lastUpdate = map[string]any{}
	require.NoError(m.t, json.Unmarshal([]byte(req.CustomAttributes), &m.lastUpdate))
	m.lastUpdate["_uid"] = req.LocalID
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"localId":"` + req.LocalID + `"}`))
}

func TestClient_SetAdminKeepsExistingClaims(t *testing.T) {
	m, client := newMockIdentity(t)
	m.users["ann@example.com"] = map[string]any{"tier": "gold"}
	m.uids["ann@example.com"] = "uid-ann"

	user, err := client.SetAdmin(context.Background(), "ann@example.com", true)
	require.NoError(t, err)

	assert.Equal(t, "uid-ann", user.UID)
	assert.True(t, user.IsAdmin())
	assert.Equal(t, "uid-ann", m.lastUpdate["_uid"])
	assert.Equal(t, true, m.lastUpdate["admin"])
	assert.Equal(t, "gold", m.lastUpdate["tier"])
}

func TestClient_RevokeAdmin(t *testing.T) {
	m, client := newMockIdentity(t)
	m.users["bob@example.com"] = map[string]any{"admin": true, "tier": "silver"}
	m.uids["bob@example.com"] = "uid-bob"

	user, err := client.SetAdmin(context.Background(), "bob@example.com", false)
	require.NoError(t, err)

	assert.False(t, user.IsAdmin())
	_, hasAdmin := m.lastUpdate["admin"]
	assert.False(t, hasAdmin)
	assert.Equal(t, "silver", m.lastUpdate["tier"])
}

func TestClient_LookupUnknownEmail(t *testing.T) {
	_, client := newMockIdentity(t)

	_, err := client.LookupByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestClient_TokenCaching(t *testing.T) {
	m, client := newMockIdentity(t)
	m.users["ann@example.com"] = map[string]any{}
	m.uids["ann@example.com"] = "uid-ann"

	for i := 0; i < 3; i++ {
		_, err := client.LookupByEmail(context.Background(), "ann@example.com")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), m.tokenCalls.Load(), "токен должен запрашиваться один раз")
}

func TestClient_TokenRefreshBeforeExpiry(t *testing.T) {
	m, client := newMockIdentity(t)
	m.users["ann@example.com"] = map[string]any{}
	m.uids["ann@example.com"] = "uid-ann"

	now := time.Now()
	client.now = func() time.Time { return now }
	_, err := client.LookupByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)

	// За 20 секунд до истечения токен обновляется
	client.now = func() time.Time { return now.Add(time.Hour - 20*time.Second) }
	_, err = client.LookupByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)

	assert.Equal(t, int32(2), m.tokenCalls.Load())
}

func TestClient_APIError(t *testing.T) {
	m, client := newMockIdentity(t)
	m.lookupError = http.StatusInternalServerError

	_, err := client.LookupByEmail(context.Background(), "ann@example.com")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestParseServiceAccount_Validation(t *testing.T) {
	_, err := ParseServiceAccount([]byte(`{"client_email":"x@y"}`))
	assert.Error(t, err)

	_, err = ParseServiceAccount([]byte(`not json`))
	assert.Error(t, err)

	sa, err := ParseServiceAccount([]byte(`{"client_email":"x@y","private_key":"k"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenURL, sa.TokenURI)
}
