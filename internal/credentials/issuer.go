// Package credentials issues and revokes the scoped accounts used by
// room agents and operators, plus the bearer tokens that authenticate them.
package credentials

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/neko-do/engine/internal/models"
	"github.com/neko-do/engine/internal/repository"
	appErr "github.com/neko-do/engine/pkg/errors"
)

const (
	tokenIssuer  = "neko-do"
	roomTokenTTL = 12 * time.Hour
)

// Issuer creates role-restricted accounts and time-limited tokens. An
// account is disabled on revocation, never deleted or reused.
type Issuer interface {
	IssueAccount(ctx context.Context, name, role, password string) (uuid.UUID, error)
	DisableAccount(ctx context.Context, accountID uuid.UUID) error
	IssueToken(accountID uuid.UUID, role string) (string, error)
	VerifyPassword(ctx context.Context, name, password string) (*models.Account, error)
}

type issuer struct {
	accounts repository.AccountRepository
	secret   []byte
}

func NewIssuer(accounts repository.AccountRepository, secret []byte) Issuer {
	return &issuer{accounts: accounts, secret: secret}
}

func (i *issuer) IssueAccount(ctx context.Context, name, role, password string) (uuid.UUID, error) {
	switch role {
	case models.RoleDisabled, models.RoleRoom, models.RoleAdmin:
	default:
		return uuid.Nil, appErr.New(appErr.CodeInvalid, "invalid account role "+role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeInternal, "hash password failed")
	}
	acct := models.Account{Name: name, Role: role, PasswordHash: string(hash)}
	if err := i.accounts.Create(ctx, &acct); err != nil {
		return uuid.Nil, err
	}
	return acct.ID, nil
}

func (i *issuer) DisableAccount(ctx context.Context, accountID uuid.UUID) error {
	var acct models.Account
	if err := i.accounts.GetByID(ctx, accountID, &acct); err != nil {
		return err
	}
	if acct.Role == models.RoleDisabled {
		return nil
	}
	acct.Role = models.RoleDisabled
	return i.accounts.Update(ctx, &acct)
}

func (i *issuer) IssueToken(accountID uuid.UUID, role string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":  tokenIssuer,
		"sub":  accountID.String(),
		"role": role,
		"exp":  time.Now().Add(roomTokenTTL).Unix(),
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "sign token failed")
	}
	return signed, nil
}

func (i *issuer) VerifyPassword(ctx context.Context, name, password string) (*models.Account, error) {
	var acct models.Account
	if err := i.accounts.GetByName(ctx, name, &acct); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, appErr.New(appErr.CodeUnauthorized, "invalid credentials")
	}
	return &acct, nil
}
