package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/shopspring/decimal"
)

type UserService struct {
	store          repository.Store
	initialCredits decimal.Decimal
	events         EventLogger
}

func NewUserService(store repository.Store, initialCredits decimal.Decimal, events EventLogger) *UserService {
	return &UserService{store: store, initialCredits: initialCredits, events: orNop(events)}
}

// FindOrCreate provisions the user and its credit account on first sight.
func (s *UserService) FindOrCreate(ctx context.Context, id uuid.UUID, email string) (*domain.User, bool, error) {
	user, err := s.store.GetUser(ctx, id)
	if err == nil {
		return &user, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	var created bool
	err = s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		created, err = q.CreateUser(ctx, domain.User{ID: id, Email: email}, s.initialCredits)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	user, err = s.store.GetUser(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}

	if created {
		slog.Info("user provisioned", "user_id", id, "initial_credits", s.initialCredits.String())
		s.events.LogRegistration(id, email)
	}
	return &user, created, nil
}

func (s *UserService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &user, nil
}
