package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neko-do/engine/internal/models"
	appErr "github.com/neko-do/engine/pkg/errors"
)

type RoomRepository interface {
	BaseRepository[models.Room]
	// Save persists an in-memory mutation with an optimistic version
	// check. It fails with CodeConflict if the stored row moved since
	// the room was fetched; callers re-fetch and replay.
	Save(ctx context.Context, room *models.Room) error
	GetByName(ctx context.Context, name string, dest *models.Room) error
	GetByCredential(ctx context.Context, credentialID uuid.UUID, dest *models.Room) error
	// ListInFlight returns rooms that are neither settled nor torn down
	// but already have a known IP, i.e. candidates for a liveness probe.
	ListInFlight(ctx context.Context) ([]models.Room, error)
	// ListExpired returns ready rooms whose expiry is in the past.
	ListExpired(ctx context.Context, now time.Time) ([]models.Room, error)
	// ListStuck returns rooms that are neither ready nor destroyed and
	// were created before the cutoff.
	ListStuck(ctx context.Context, cutoff time.Time) ([]models.Room, error)
}

type roomRepository struct {
	BaseRepository[models.Room]
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{BaseRepository: NewBaseRepository[models.Room](db), db: db}
}

func (r *roomRepository) Save(ctx context.Context, room *models.Room) error {
	prev := room.Version
	room.Version = prev + 1
	res := r.db.WithContext(ctx).Model(&models.Room{}).
		Where("id = ? AND version = ?", room.ID, prev).
		Select("*").Omit("id", "created_at").
		Updates(room)
	if res.Error != nil {
		room.Version = prev
		return appErr.Wrap(res.Error, appErr.CodeInternal, "save room failed")
	}
	if res.RowsAffected == 0 {
		room.Version = prev
		return appErr.New(appErr.CodeConflict, "room was modified concurrently")
	}
	return nil
}

func (r *roomRepository) GetByName(ctx context.Context, name string, dest *models.Room) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "room not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get room by name failed")
	}
	return nil
}

func (r *roomRepository) GetByCredential(ctx context.Context, credentialID uuid.UUID, dest *models.Room) error {
	if err := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "room not found for credential")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get room by credential failed")
	}
	return nil
}

func (r *roomRepository) ListInFlight(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []string{models.StatusReady, models.StatusDestroyed, models.StatusRecordDestroyed}).
		Where("ip <> ''").
		Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list in-flight rooms failed")
	}
	return out, nil
}

func (r *roomRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Room, error) {
	var out []models.Room
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.StatusReady, now).
		Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list expired rooms failed")
	}
	return out, nil
}

func (r *roomRepository) ListStuck(ctx context.Context, cutoff time.Time) ([]models.Room, error) {
	var out []models.Room
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []string{models.StatusReady, models.StatusDestroyed}).
		Where("created_at < ?", cutoff).
		Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list stuck rooms failed")
	}
	return out, nil
}
