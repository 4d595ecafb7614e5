package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"exchange/internal/config"
	"exchange/internal/model"
	"exchange/internal/repository"
)

// UserDirectory is the read-only view of the identity service the ledger
// needs. Lookups of a single user return repository.ErrUserNotFound when
// nothing matches.
type UserDirectory interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByNickname(ctx context.Context, nickname string) ([]*model.User, error)
}

// FeeRecipient is the house account credited with conversion fees. The zero
// value means fees are charged but credited to nobody.
type FeeRecipient struct {
	UserID int64
}

func (r FeeRecipient) Configured() bool { return r.UserID > 0 }

// ResolveFeeRecipient looks the configured recipient up once at startup. A
// recipient that is configured but absent from the user store is fatal.
func ResolveFeeRecipient(ctx context.Context, users UserDirectory, cfg config.FeeRecipientConfig) (FeeRecipient, error) {
	if !cfg.Enabled() {
		return FeeRecipient{}, nil
	}

	var (
		user *model.User
		err  error
	)
	if cfg.UserID > 0 {
		user, err = users.FindByID(ctx, cfg.UserID)
	} else {
		user, err = users.FindByEmail(ctx, cfg.Email)
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return FeeRecipient{}, fmt.Errorf("user_id=%d email=%q: %w", cfg.UserID, cfg.Email, ErrFeeRecipientNotFound)
		}
		return FeeRecipient{}, fmt.Errorf("resolve fee recipient: %w", err)
	}
	return FeeRecipient{UserID: user.ID}, nil
}

// resolveRecipient maps a transfer identifier to a user: exact e-mail first,
// then a case-insensitive nickname that must match exactly one user.
func resolveRecipient(ctx context.Context, users UserDirectory, identifier string) (*model.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, reject(ReasonInvalidRecipient, "recipient is required")
	}

	exists, err := users.ExistsByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient by email: %w", err)
	}
	if exists {
		user, err := users.FindByEmail(ctx, identifier)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("lookup recipient by email: %w", err)
		}
	}

	matches, err := users.FindByNickname(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup recipient by nickname: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, reject(ReasonRecipientNotFound, "no user matches %q", identifier)
	case 1:
		return matches[0], nil
	}
	return nil, reject(ReasonAmbiguousRecipient, "%d users match nickname %q, use the e-mail instead", len(matches), identifier)
}

func requireUser(ctx context.Context, users UserDirectory, id int64, reason string) (*model.User, error) {
	user, err := users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, reject(reason, "user %d does not exist", id)
		}
		return nil, fmt.Errorf("lookup user %d: %w", id, err)
	}
	return user, nil
}
