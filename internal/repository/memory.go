package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neko-do/engine/internal/models"
	appErr "github.com/neko-do/engine/pkg/errors"
)

// InMemoryRoomRepository is a map-backed RoomRepository with the same
// optimistic-version semantics as the Postgres implementation. Used by
// tests and local development without a database.
type InMemoryRoomRepository struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]models.Room
}

func NewInMemoryRoomRepository() *InMemoryRoomRepository {
	return &InMemoryRoomRepository{rooms: map[uuid.UUID]models.Room{}}
}

var _ RoomRepository = (*InMemoryRoomRepository)(nil)

func (r *InMemoryRoomRepository) Create(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	if _, exists := r.rooms[room.ID]; exists {
		return appErr.New(appErr.CodeAlreadyExists, "room already exists")
	}
	for _, existing := range r.rooms {
		if existing.Name == room.Name {
			return appErr.New(appErr.CodeAlreadyExists, "room name already exists")
		}
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	r.rooms[room.ID] = *room
	return nil
}

func (r *InMemoryRoomRepository) GetByID(ctx context.Context, id any, dest *models.Room) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := id.(uuid.UUID)
	if !ok {
		return appErr.New(appErr.CodeInvalid, "room id must be a uuid")
	}
	room, exists := r.rooms[roomID]
	if !exists {
		return appErr.New(appErr.CodeNotFound, "room not found")
	}
	*dest = room
	return nil
}

func (r *InMemoryRoomRepository) Update(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.ID]; !exists {
		return appErr.New(appErr.CodeNotFound, "room not found")
	}
	room.UpdatedAt = time.Now()
	r.rooms[room.ID] = *room
	return nil
}

func (r *InMemoryRoomRepository) Delete(ctx context.Context, id any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := id.(uuid.UUID)
	if !ok {
		return appErr.New(appErr.CodeInvalid, "room id must be a uuid")
	}
	if _, exists := r.rooms[roomID]; !exists {
		return appErr.New(appErr.CodeNotFound, "room not found")
	}
	delete(r.rooms, roomID)
	return nil
}

func (r *InMemoryRoomRepository) Save(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, exists := r.rooms[room.ID]
	if !exists {
		return appErr.New(appErr.CodeNotFound, "room not found")
	}
	if stored.Version != room.Version {
		return appErr.New(appErr.CodeConflict, "room was modified concurrently")
	}
	room.Version++
	room.UpdatedAt = time.Now()
	r.rooms[room.ID] = *room
	return nil
}

func (r *InMemoryRoomRepository) GetByName(ctx context.Context, name string, dest *models.Room) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		if room.Name == name {
			*dest = room
			return nil
		}
	}
	return appErr.New(appErr.CodeNotFound, "room not found")
}

func (r *InMemoryRoomRepository) GetByCredential(ctx context.Context, credentialID uuid.UUID, dest *models.Room) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		if room.CredentialID != nil && *room.CredentialID == credentialID {
			*dest = room
			return nil
		}
	}
	return appErr.New(appErr.CodeNotFound, "room not found for credential")
}

func (r *InMemoryRoomRepository) ListInFlight(ctx context.Context) ([]models.Room, error) {
	return r.list(func(room models.Room) bool {
		switch room.Status {
		case models.StatusReady, models.StatusDestroyed, models.StatusRecordDestroyed:
			return false
		}
		return room.IP != ""
	}), nil
}

func (r *InMemoryRoomRepository) ListExpired(ctx context.Context, now time.Time) ([]models.Room, error) {
	return r.list(func(room models.Room) bool {
		return room.Status == models.StatusReady && room.ExpiresAt.Before(now)
	}), nil
}

func (r *InMemoryRoomRepository) ListStuck(ctx context.Context, cutoff time.Time) ([]models.Room, error) {
	return r.list(func(room models.Room) bool {
		switch room.Status {
		case models.StatusReady, models.StatusDestroyed:
			return false
		}
		return room.CreatedAt.Before(cutoff)
	}), nil
}

func (r *InMemoryRoomRepository) list(match func(models.Room) bool) []models.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Room
	for _, room := range r.rooms {
		if match(room) {
			out = append(out, room)
		}
	}
	return out
}

// InMemoryAccountRepository is the Account counterpart.
type InMemoryAccountRepository struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]models.Account
}

func NewInMemoryAccountRepository() *InMemoryAccountRepository {
	return &InMemoryAccountRepository{accounts: map[uuid.UUID]models.Account{}}
}

var _ AccountRepository = (*InMemoryAccountRepository)(nil)

func (r *InMemoryAccountRepository) Create(ctx context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	for _, existing := range r.accounts {
		if existing.Name == acct.Name {
			return appErr.New(appErr.CodeAlreadyExists, "account name already exists")
		}
	}
	now := time.Now()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	r.accounts[acct.ID] = *acct
	return nil
}

func (r *InMemoryAccountRepository) GetByID(ctx context.Context, id any, dest *models.Account) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acctID, ok := id.(uuid.UUID)
	if !ok {
		return appErr.New(appErr.CodeInvalid, "account id must be a uuid")
	}
	acct, exists := r.accounts[acctID]
	if !exists {
		return appErr.New(appErr.CodeNotFound, "account not found")
	}
	*dest = acct
	return nil
}

func (r *InMemoryAccountRepository) Update(ctx context.Context, acct *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.accounts[acct.ID]; !exists {
		return appErr.New(appErr.CodeNotFound, "account not found")
	}
	acct.UpdatedAt = time.Now()
	r.accounts[acct.ID] = *acct
	return nil
}

func (r *InMemoryAccountRepository) Delete(ctx context.Context, id any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acctID, ok := id.(uuid.UUID)
	if !ok {
		return appErr.New(appErr.CodeInvalid, "account id must be a uuid")
	}
	if _, exists := r.accounts[acctID]; !exists {
		return appErr.New(appErr.CodeNotFound, "account not found")
	}
	delete(r.accounts, acctID)
	return nil
}

func (r *InMemoryAccountRepository) GetByName(ctx context.Context, name string, dest *models.Account) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acct := range r.accounts {
		if acct.Name == name {
			*dest = acct
			return nil
		}
	}
	return appErr.New(appErr.CodeNotFound, "account not found")
}
