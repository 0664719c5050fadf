package approuters

import (
	"Boxchat/internal/configuration"
	"Boxchat/internal/identity"
	"Boxchat/internal/model"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &configuration.Config{
		Auth:     configuration.AuthConfig{JWTSecret: secret},
		Store:    configuration.DriverConfig{Driver: configuration.DriverMemory},
		Presence: configuration.DriverConfig{Driver: configuration.DriverMemory},
		Log:      configuration.LogConfig{Level: "error"},
		Server:   configuration.ServerConfig{AllowedOrigins: []string{"*"}},
	}
	container, err := configuration.BuildContainer(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close() })

	return NewRouter(container)
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := identity.Mint(secret, model.UserSnapshot{ID: userID, Name: userID}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRouter_AuthenticatedConversationRoutes(t *testing.T) {
	router := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/api/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat/api/conversations", bytes.NewBufferString(`{"peerId":"bob"}`))
	req.Header.Set("Authorization", bearer(t, "alice"))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/chat/api/conversations", nil)
	req.Header.Set("Authorization", bearer(t, "bob"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ResponseBody model.InboxSnapshot
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.ResponseBody.Conversations, 1)
	assert.Equal(t, "alice", body.ResponseBody.Conversations[0].PeerID)
}

func TestRouter_PublicRoutes(t *testing.T) {
	router := newRouter(t)

	for _, path := range []string{"/", "/chat/api/monitor/stats", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
