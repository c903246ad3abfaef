package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/neko-do/engine/internal/api/handlers"
	"github.com/neko-do/engine/internal/cloud"
	"github.com/neko-do/engine/internal/credentials"
	"github.com/neko-do/engine/internal/dns"
	"github.com/neko-do/engine/internal/models"
	"github.com/neko-do/engine/internal/orchestrator"
	"github.com/neko-do/engine/internal/repository"
	"github.com/neko-do/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type nopCompute struct{}

func (nopCompute) CreateInstance(ctx context.Context, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	return &cloud.Instance{ID: 101}, nil
}
func (nopCompute) DeleteInstance(ctx context.Context, instanceID int64) error { return nil }
func (nopCompute) GetInstanceStatus(ctx context.Context, instanceID int64) (*cloud.InstanceStatus, error) {
	return &cloud.InstanceStatus{State: cloud.StateActive, IP: "203.0.113.7"}, nil
}
func (nopCompute) AssociateWithProject(ctx context.Context, projectID string, instanceID int64) error {
	return nil
}
func (nopCompute) FindProjectByName(ctx context.Context, name string) (string, error) {
	return "", nil
}

type nopDNS struct{}

func (nopDNS) CreateRecord(ctx context.Context, zone string, spec dns.RecordSpec) (int64, error) {
	return 555, nil
}
func (nopDNS) DeleteRecord(ctx context.Context, zone string, recordID int64) error { return nil }

type apiFixture struct {
	router   http.Handler
	rooms    *repository.InMemoryRoomRepository
	accounts *repository.InMemoryAccountRepository
	issuer   credentials.Issuer
	orch     *orchestrator.Orchestrator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	secret := []byte("test-secret")
	rooms := repository.NewInMemoryRoomRepository()
	accounts := repository.NewInMemoryAccountRepository()
	issuer := credentials.NewIssuer(accounts, secret)

	orch := orchestrator.New(orchestrator.Config{
		Domain:          "rooms.example.com",
		RoomTTL:         2 * time.Hour,
		RenewWindow:     time.Hour,
		PollBaseDelay:   time.Millisecond,
		PollMaxDelay:    time.Millisecond,
		PollMaxAttempts: 1,
	}, rooms, nopCompute{}, nopDNS{}, issuer, nil, nil)

	router := NewRouter(Dependencies{
		HMACSecret:   secret,
		AuthHandler:  handlers.NewAuthHandler(issuer),
		RoomsHandler: handlers.NewRoomsHandler(orch),
	})
	return &apiFixture{router: router, rooms: rooms, accounts: accounts, issuer: issuer, orch: orch}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	id, err := f.issuer.IssueAccount(context.Background(), "admin-"+uuid.NewString()[:8], models.RoleAdmin, "password123")
	require.NoError(t, err)
	token, err := f.issuer.IssueToken(id, models.RoleAdmin)
	require.NoError(t, err)
	return token
}

func decodeRoom(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.True(t, out.Success)
	room, ok := out.Data["room"].(map[string]any)
	require.True(t, ok)
	return room
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"name": "operator", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"name": "operator", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var out struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.NotEmpty(t, out.Data.AccessToken)

	// fresh registrations are disabled until promoted; the token is useless
	rr = f.do(t, http.MethodGet, "/api/v1/rooms/"+uuid.NewString(), out.Data.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"name": "operator", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoomEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	rr := f.do(t, http.MethodPost, "/api/v1/rooms/", "", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/rooms/", "not-a-jwt", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoomAdminFlow(t *testing.T) {
	f := newAPIFixture(t)
	token := f.adminToken(t)

	rr := f.do(t, http.MethodPost, "/api/v1/rooms/", token, map[string]any{
		"image": "firefox", "resolution": "720p", "fps": 30,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeRoom(t, rr)
	require.Equal(t, models.StatusSubmitted, created["status"])
	roomID := created["id"].(string)

	rr = f.do(t, http.MethodGet, "/api/v1/rooms/"+roomID, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/rooms/"+roomID, token, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, models.StatusDecommissioning, decodeRoom(t, rr)["status"])

	rr = f.do(t, http.MethodPost, "/api/v1/rooms/", token, map[string]any{"image": "netscape"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/rooms/"+uuid.NewString(), token, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoomCallback(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	// a room mid-provisioning with its scoped agent credential
	credID, err := f.issuer.IssueAccount(ctx, "neko-room-ab12", models.RoleRoom, "agent-pw")
	require.NoError(t, err)
	room := &models.Room{
		Name:       "neko-room-ab12",
		Status:     models.StatusRecordCreated,
		Step:       models.StepRecordCreated,
		Image:      "firefox",
		Resolution: "720p",
		FPS:        30,
		InstanceID: 101,

		CredentialID: &credID,
	}
	require.NoError(t, f.rooms.Create(ctx, room))

	agentToken, err := f.issuer.IssueToken(credID, models.RoleRoom)
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/api/v1/rooms/callback", agentToken, map[string]any{
		"status": "ready", "step": 7,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, models.StatusReady, decodeRoom(t, rr)["status"])

	var got models.Room
	require.NoError(t, f.rooms.GetByID(ctx, room.ID, &got))
	require.Equal(t, 7, got.Step)

	// the callback is scoped to room credentials; admin tokens are refused
	rr = f.do(t, http.MethodPost, "/api/v1/rooms/callback", f.adminToken(t), map[string]any{
		"status": "ready", "step": 8,
	})
	require.Equal(t, http.StatusForbidden, rr.Code)

	// a room credential cannot reach the admin surface
	rr = f.do(t, http.MethodPost, "/api/v1/rooms/", agentToken, map[string]any{})
	require.Equal(t, http.StatusForbidden, rr.Code)
}
