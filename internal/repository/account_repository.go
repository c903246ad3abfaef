package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/neko-do/engine/internal/models"
	appErr "github.com/neko-do/engine/pkg/errors"
)

type AccountRepository interface {
	BaseRepository[models.Account]
	GetByName(ctx context.Context, name string, dest *models.Account) error
}

type accountRepository struct {
	BaseRepository[models.Account]
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{BaseRepository: NewBaseRepository[models.Account](db), db: db}
}

func (r *accountRepository) GetByName(ctx context.Context, name string, dest *models.Account) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "account not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get account by name failed")
	}
	return nil
}
