package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatwidget/pkg/session"
)

func staticTokens(auth session.Auth) TokenSource {
	return func() session.Auth { return auth }
}

func TestClientLoginSendsDevicePayloadAndHeaders(t *testing.T) {
	var gotReq LoginRequest
	var gotAppToken, gotAuthz string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/login", r.URL.Path)
		gotAppToken = r.Header.Get("App-Token")
		gotAuthz = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(LoginResponse{
			AppUser:    session.User{ID: "u1"},
			PublicKeys: map[string]string{"stripe": "pk_1"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, TokenSource: staticTokens(session.Auth{AppToken: "T", JWT: "J"})})
	require.NoError(t, err)

	resp, err := c.Login(context.Background(), LoginRequest{
		UserID: "u1",
		Device: Device{Platform: "web", ID: "dev1", Info: DeviceMetadata{SDKVersion: "0.4.0"}},
	})
	require.NoError(t, err)
	require.Equal(t, "u1", resp.AppUser.ID)
	require.Equal(t, "pk_1", resp.PublicKeys["stripe"])
	require.Equal(t, "T", gotAppToken)
	require.Equal(t, "Bearer J", gotAuthz)
	require.Equal(t, "web", gotReq.Device.Platform)
	require.Equal(t, "dev1", gotReq.Device.ID)
}

func TestClientLoginRejectionIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid jwt"})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, TokenSource: staticTokens(session.Auth{AppToken: "T"})})
	require.NoError(t, err)

	_, err = c.Login(context.Background(), LoginRequest{})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Contains(t, authErr.Error(), "invalid jwt")
}

func TestClientNetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := NewClient(Config{BaseURL: srv.URL, TokenSource: staticTokens(session.Auth{})})
	require.NoError(t, err)

	_, err = c.GetConversation(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestClientImmediateUpdateUsesQueryFlag(t *testing.T) {
	var gotImmediate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/v1/appuser", r.URL.Path)
		gotImmediate = r.URL.Query().Get("immediate")
		_ = json.NewEncoder(w).Encode(UserResponse{AppUser: session.User{ID: "u1", ConversationStarted: true}})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, TokenSource: staticTokens(session.Auth{})})
	require.NoError(t, err)

	u, err := c.ImmediateUpdateUser(context.Background(), map[string]any{"email": "a@b.com"})
	require.NoError(t, err)
	require.True(t, u.ConversationStarted)
	require.Equal(t, "true", gotImmediate)

	_, err = c.UpdateUser(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "", gotImmediate)
}

func TestClientPostMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/conversation/messages", r.URL.Path)
		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(MessageResponse{
			Message: session.Message{ID: "m1", Text: req.Text, Role: req.Role},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, TokenSource: staticTokens(session.Auth{})})
	require.NoError(t, err)

	m, err := c.PostMessage(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", m.Text)
	require.Equal(t, session.RoleUser, m.Role)
}

func TestClientTrackEventRequiresName(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:1", TokenSource: staticTokens(session.Auth{})})
	require.NoError(t, err)
	require.Error(t, c.TrackEvent(context.Background(), "  ", nil))
}
