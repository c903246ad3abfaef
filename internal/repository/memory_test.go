package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/neko-do/engine/internal/models"
	appErr "github.com/neko-do/engine/pkg/errors"
)

func TestInMemorySaveDetectsConcurrentWrite(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()

	room := &models.Room{Name: "neko-room-ab12", Status: models.StatusSubmitted, Step: 1}
	require.NoError(t, repo.Create(ctx, room))

	var a, b models.Room
	require.NoError(t, repo.GetByID(ctx, room.ID, &a))
	require.NoError(t, repo.GetByID(ctx, room.ID, &b))

	a.Status = models.StatusIPAcquired
	require.NoError(t, repo.Save(ctx, &a))

	// b still carries the old version; its save must lose
	b.Status = models.StatusFailed
	err := repo.Save(ctx, &b)
	require.True(t, appErr.IsCode(err, appErr.CodeConflict))

	var got models.Room
	require.NoError(t, repo.GetByID(ctx, room.ID, &got))
	require.Equal(t, models.StatusIPAcquired, got.Status)
}

func TestInMemoryListFilters(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()

	inFlight := &models.Room{Name: "a", Status: models.StatusIPAcquired, Step: 2, IP: "203.0.113.7"}
	noIP := &models.Room{Name: "b", Status: models.StatusSubmitted, Step: 1}
	expired := &models.Room{Name: "c", Status: models.StatusReady, Step: 7, ExpiresAt: time.Now().Add(-time.Minute)}
	alive := &models.Room{Name: "d", Status: models.StatusReady, Step: 7, ExpiresAt: time.Now().Add(time.Hour)}
	stuck := &models.Room{Name: "e", Status: models.StatusSubmitted, Step: 1, CreatedAt: time.Now().Add(-time.Hour)}
	for _, r := range []*models.Room{inFlight, noIP, expired, alive, stuck} {
		require.NoError(t, repo.Create(ctx, r))
	}

	got, err := repo.ListInFlight(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, inFlight.ID, got[0].ID)

	got, err = repo.ListExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, expired.ID, got[0].ID)

	got, err = repo.ListStuck(ctx, time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, stuck.ID, got[0].ID)
}
