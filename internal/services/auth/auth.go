// Package auth содержит регистрацию, вход и проверку токенов доступа.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/travel-planner/internal/lib/jwt"
	"github.com/magabrotheeeer/travel-planner/internal/lib/password"
	"github.com/magabrotheeeer/travel-planner/internal/lib/sl"
	"github.com/magabrotheeeer/travel-planner/internal/models"
	"github.com/magabrotheeeer/travel-planner/internal/services/authz"
	"github.com/magabrotheeeer/travel-planner/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUserNotFound       = errors.New("user not found")
	ErrSelfRoleChange     = errors.New("cannot change own role")
)

// UserRepository описывает контракт для работы с пользователями в базе данных.
type UserRepository interface {
	// RegisterUser сохраняет нового пользователя и возвращает его ID.
	RegisterUser(ctx context.Context, user models.User) (string, error)

	// GetUserByEmail возвращает пользователя по email или storage.ErrNotFound.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	UpdateUserRole(ctx context.Context, userID string, role models.Role) error
}

// Service отвечает за регистрацию, авторизацию и валидацию JWT.
type Service struct {
	users    UserRepository
	jwtMaker jwt.Maker
	log      *slog.Logger
}

// NewService создает новый экземпляр Service.
func NewService(users UserRepository, jwtMaker jwt.Maker, log *slog.Logger) *Service {
	return &Service{
		users:    users,
		jwtMaker: jwtMaker,
		log:      log,
	}
}

// Register создает пользователя с ролью user. Тариф не сохраняется:
// пользователь без подписки получает basic через EffectivePlan.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (string, error) {
	const op = "auth.Register"

	hashed, err := password.GetHash(req.Password)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	id, err := s.users.RegisterUser(ctx, models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hashed,
		Role:         models.RoleUser,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return "", ErrUserExists
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user registered", slog.String("user_id", id))
	return id, nil
}

// Login проверяет пароль и выдает токен доступа.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (string, *models.User, error) {
	const op = "auth.Login"

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if err := password.CompareHash(user.PasswordHash, req.Password); err != nil {
		s.log.Debug("password mismatch", slog.String("user_id", user.ID), sl.Err(err))
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.jwtMaker.GenerateToken(user.ID, user.Username, string(user.Role))
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return token, user, nil
}

// ValidateToken разбирает токен. Роль из токена должна входить в закрытый
// перечень, иначе токен отклоняется.
func (s *Service) ValidateToken(token string) (authz.Principal, error) {
	claims, err := s.jwtMaker.ParseToken(token)
	if err != nil {
		return authz.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return authz.Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return authz.Principal{
		UserID:   claims.UserID(),
		Username: claims.Username,
		Role:     role,
	}, nil
}

// ChangeRole назначает пользователю роль. Свою роль менять нельзя, чтобы
// последний super_admin не лишил себя прав.
func (s *Service) ChangeRole(ctx context.Context, actor authz.Principal, userID string, role models.Role) error {
	const op = "auth.ChangeRole"

	if !authz.Can(actor.Role, authz.ManageRoles) {
		return fmt.Errorf("%s: %w", op, authz.ErrForbidden)
	}
	if actor.UserID == userID {
		return ErrSelfRoleChange
	}
	if _, ok := models.ParseRole(string(role)); !ok {
		return fmt.Errorf("%s: unknown role %q", op, role)
	}

	err := s.users.UpdateUserRole(ctx, userID, role)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("role changed",
		slog.String("actor_id", actor.UserID),
		slog.String("user_id", userID),
		slog.String("role", string(role)),
	)
	return nil
}
