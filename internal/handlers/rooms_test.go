package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/meeting-signaling/internal/middleware"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/redis"
	"github.com/mossy-p/meeting-signaling/internal/registry"
	"github.com/stretchr/testify/require"
)

type stubLookup map[string]*redis.RoomPresence

func (s stubLookup) Room(_ context.Context, roomID string) (*redis.RoomPresence, error) {
	if roomID == "broken" {
		return nil, errors.New("connection refused")
	}
	if p, ok := s[roomID]; ok {
		return p, nil
	}
	return nil, redis.ErrRoomNotFound
}

func newAPIRouter(reg *registry.Registry, lookup RoomLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	api := NewRoomsAPI(reg, lookup)

	r := gin.New()
	r.Use(OriginFilter([]string{"http://allowed.example"}))
	r.POST("/api/auth/login", Login("admin", "pw", "secret"))
	r.GET("/api/rooms", middleware.JWTAuth("secret"), api.ListRooms)
	r.GET("/api/rooms/:roomId", api.GetRoom)
	return r
}

func serve(r http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetRoom(t *testing.T) {
	reg := registry.New()
	reg.Join("live", "x")
	reg.Join("live", "y")
	firstSeen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newAPIRouter(reg, stubLookup{
		"live":  {FirstSeenAt: firstSeen, Members: 2},
		"stale": {FirstSeenAt: firstSeen},
	})

	w := serve(r, http.MethodGet, "/api/rooms/live", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var room models.RoomMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	require.Equal(t, 2, room.MemberCount)
	require.NotNil(t, room.FirstSeenAt)
	require.True(t, room.FirstSeenAt.Equal(firstSeen))

	w = serve(r, http.MethodGet, "/api/rooms/stale", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/rooms/none", "", nil).Code)
	require.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/api/rooms/broken", "", nil).Code)
}

func TestGetRoomWithoutStore(t *testing.T) {
	reg := registry.New()
	reg.Join("live", "x")
	r := newAPIRouter(reg, nil)

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/rooms/live", "", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/rooms/none", "", nil).Code)
}

func TestLoginAndListRooms(t *testing.T) {
	reg := registry.New()
	reg.Join("a", "x")
	reg.Join("b", "y")
	reg.Join("b", "z")
	r := newAPIRouter(reg, nil)

	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/api/rooms", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized,
		serve(r, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`, nil).Code)
	require.Equal(t, http.StatusBadRequest,
		serve(r, http.MethodPost, "/api/auth/login", `{"username":"admin"}`, nil).Code)

	w := serve(r, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	w = serve(r, http.MethodGet, "/api/rooms", "", map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, w.Code)
	var list models.RoomList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, []models.RoomMetadata{{ID: "a", MemberCount: 1}, {ID: "b", MemberCount: 2}}, list.Rooms)
}

func TestLoginDisabledWithoutPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", Login("admin", "", "secret"))

	w := serve(r, http.MethodPost, "/login", `{"username":"admin","password":"x"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOriginFilter(t *testing.T) {
	r := newAPIRouter(registry.New(), nil)

	w := serve(r, http.MethodGet, "/api/rooms/x", "", map[string]string{"Origin": "http://evil.example"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodOptions, "/api/rooms/x", "", map[string]string{"Origin": "http://allowed.example"})
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://allowed.example", w.Header().Get("Access-Control-Allow-Origin"))

	gin.SetMode(gin.TestMode)
	open := gin.New()
	open.Use(OriginFilter([]string{"*"}))
	open.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w = serve(open, http.MethodGet, "/", "", map[string]string{"Origin": "http://any.example"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "http://any.example", w.Header().Get("Access-Control-Allow-Origin"))
}
