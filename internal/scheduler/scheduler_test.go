package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/neko-do/engine/internal/cloud"
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

// no-op providers: sweeps under test only need teardown calls to succeed

type nopCompute struct{}

func (nopCompute) CreateInstance(ctx context.Context, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	return &cloud.Instance{ID: 1}, nil
}
func (nopCompute) DeleteInstance(ctx context.Context, instanceID int64) error { return nil }
func (nopCompute) GetInstanceStatus(ctx context.Context, instanceID int64) (*cloud.InstanceStatus, error) {
	return &cloud.InstanceStatus{State: cloud.StateActive}, nil
}
func (nopCompute) AssociateWithProject(ctx context.Context, projectID string, instanceID int64) error {
	return nil
}
func (nopCompute) FindProjectByName(ctx context.Context, name string) (string, error) {
	return "", nil
}

type nopDNS struct{}

func (nopDNS) CreateRecord(ctx context.Context, zone string, spec dns.RecordSpec) (int64, error) {
	return 1, nil
}
func (nopDNS) DeleteRecord(ctx context.Context, zone string, recordID int64) error { return nil }

type nopIssuer struct{}

func (nopIssuer) IssueAccount(ctx context.Context, name, role, password string) (uuid.UUID, error) {
	return uuid.New(), nil
}
func (nopIssuer) DisableAccount(ctx context.Context, accountID uuid.UUID) error { return nil }
func (nopIssuer) IssueToken(accountID uuid.UUID, role string) (string, error)   { return "tok", nil }
func (nopIssuer) VerifyPassword(ctx context.Context, name, password string) (*models.Account, error) {
	return nil, nil
}

func newScheduler(t *testing.T, probePort int) (*Scheduler, *repository.InMemoryRoomRepository) {
	t.Helper()
	rooms := repository.NewInMemoryRoomRepository()
	orch := orchestrator.New(orchestrator.Config{
		Domain:          "rooms.example.com",
		RoomTTL:         2 * time.Hour,
		RenewWindow:     time.Hour,
		PollBaseDelay:   time.Millisecond,
		PollMaxDelay:    time.Millisecond,
		PollMaxAttempts: 1,
	}, rooms, nopCompute{}, nopDNS{}, nopIssuer{}, nil, nil)

	return New(Config{
		Interval:          time.Second,
		ProvisionDeadline: 10 * time.Minute,
		ProbeTimeout:      time.Second,
		ProbePort:         probePort,
	}, rooms, orch), rooms
}

func seedRoom(t *testing.T, rooms *repository.InMemoryRoomRepository, room *models.Room) *models.Room {
	t.Helper()
	room.Name = "neko-room-" + uuid.NewString()[:8]
	room.Image = "firefox"
	room.Resolution = "720p"
	room.FPS = 30
	require.NoError(t, rooms.Create(context.Background(), room))
	return room
}

func getRoom(t *testing.T, rooms *repository.InMemoryRoomRepository, id uuid.UUID) *models.Room {
	t.Helper()
	var room models.Room
	require.NoError(t, rooms.GetByID(context.Background(), id, &room))
	return &room
}

func probePortOf(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestLivenessSweepAppliesProbedProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("7:ready\n"))
	}))
	defer srv.Close()

	sched, rooms := newScheduler(t, probePortOf(t, srv))
	room := seedRoom(t, rooms, &models.Room{
		Status:     models.StatusRecordCreated,
		Step:       models.StepRecordCreated,
		InstanceID: 101,
		IP:         "127.0.0.1",
	})

	require.NoError(t, sched.LivenessSweep(context.Background()))

	got := getRoom(t, rooms, room.ID)
	require.Equal(t, models.StatusReady, got.Status)
	require.Equal(t, 7, got.Step)
}

func TestLivenessSweepSkipsUnchangedAndUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("3:record_created"))
	}))
	defer srv.Close()

	sched, rooms := newScheduler(t, probePortOf(t, srv))
	same := seedRoom(t, rooms, &models.Room{
		Status:     models.StatusRecordCreated,
		Step:       models.StepRecordCreated,
		InstanceID: 101,
		IP:         "127.0.0.1",
	})
	unreachable := seedRoom(t, rooms, &models.Room{
		Status:     models.StatusIPAcquired,
		Step:       models.StepIPAcquired,
		InstanceID: 102,
		IP:         "192.0.2.1", // TEST-NET, nothing listens here
	})

	require.NoError(t, sched.LivenessSweep(context.Background()))

	require.Equal(t, models.StepRecordCreated, getRoom(t, rooms, same.ID).Step)
	require.Equal(t, models.StepIPAcquired, getRoom(t, rooms, unreachable.ID).Step)
}

func TestExpirationSweepTearsDownExpiredRooms(t *testing.T) {
	sched, rooms := newScheduler(t, 0)
	expired := seedRoom(t, rooms, &models.Room{
		Status:        models.StatusReady,
		Step:          7,
		InstanceID:    101,
		DNSRecordID:   555,
		URL:           "x.rooms.example.com",
		Password:      "pw",
		AdminPassword: "apw",
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	alive := seedRoom(t, rooms, &models.Room{
		Status:    models.StatusReady,
		Step:      7,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	require.NoError(t, sched.ExpirationSweep(context.Background()))

	got := getRoom(t, rooms, expired.ID)
	require.Equal(t, models.StatusDestroyed, got.Status)
	require.Empty(t, got.Password)
	require.Empty(t, got.AdminPassword)
	require.Equal(t, models.StatusReady, getRoom(t, rooms, alive.ID).Status)
}

func TestFailureSweepCompensatesStuckRooms(t *testing.T) {
	sched, rooms := newScheduler(t, 0)
	stuck := seedRoom(t, rooms, &models.Room{
		Status:     models.StatusIPAcquired,
		Step:       models.StepIPAcquired,
		InstanceID: 101,
		IP:         "203.0.113.7",
		CreatedAt:  time.Now().Add(-11 * time.Minute),
	})
	fresh := seedRoom(t, rooms, &models.Room{
		Status: models.StatusSubmitted,
		Step:   models.StepSubmitted,
	})

	require.NoError(t, sched.FailureSweep(context.Background()))

	got := getRoom(t, rooms, stuck.ID)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, models.StepFailed, got.Step)
	require.Equal(t, models.StatusSubmitted, getRoom(t, rooms, fresh.ID).Status)
}

func TestFailureSweepLeavesFailedRoomsAlone(t *testing.T) {
	sched, rooms := newScheduler(t, 0)
	failed := seedRoom(t, rooms, &models.Room{
		Status:    models.StatusFailed,
		Step:      models.StepFailed,
		CreatedAt: time.Now().Add(-time.Hour),
	})

	require.NoError(t, sched.FailureSweep(context.Background()))
	require.Equal(t, models.StepFailed, getRoom(t, rooms, failed.ID).Step)
}

func TestParseStatusLine(t *testing.T) {
	cases := []struct {
		in     string
		step   int
		status string
		ok     bool
	}{
		{"7:ready", 7, "ready", true},
		{"  4 : proxy_ready \n", 4, "proxy_ready", true},
		{"-1:failed", -1, "failed", true},
		{"ready", 0, "", false},
		{"x:ready", 0, "", false},
		{"", 0, "", false},
	}

	for _, tc := range cases {
		step, status, err := ParseStatusLine(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.step, step, tc.in)
		require.Equal(t, tc.status, status, tc.in)
	}
}
