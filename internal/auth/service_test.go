package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/JannieHamberg/equibox-sub000/internal/users"
	pkgAuth "github.com/JannieHamberg/equibox-sub000/pkg/auth"
	"github.com/JannieHamberg/equibox-sub000/pkg/config"
	"github.com/JannieHamberg/equibox-sub000/pkg/db/models"
	"github.com/JannieHamberg/equibox-sub000/pkg/enums"
	pkgerrors "github.com/JannieHamberg/equibox-sub000/pkg/errors"
	"github.com/JannieHamberg/equibox-sub000/pkg/security"
)

func TestServiceLoginIssuesSubscriberToken(t *testing.T) {
	password := "subscriber-secret"
	hashed := mustHashPassword(t, password)
	user := &models.User{
		ID:           uuid.New(),
		Email:        "rider@example.com",
		PasswordHash: hashed,
		Name:         "Rider One",
		Role:         enums.UserRoleSubscriber,
		IsActive:     true,
	}
	cfg := testJWTConfig()

	svc, repo := buildTestService(t, user, cfg)

	resp, err := svc.Login(context.Background(), LoginRequest{
		Email:    "  Rider@Example.com ",
		Password: password,
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	claims, err := pkgAuth.ParseAccessToken(cfg, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("expected user id %s in claims, got %s", user.ID, claims.UserID)
	}
	if claims.Role != enums.UserRoleSubscriber {
		t.Fatalf("expected subscriber role claim, got %s", claims.Role)
	}
	if repo.lastLoginUpdates != 1 {
		t.Fatalf("expected one last-login update, got %d", repo.lastLoginUpdates)
	}
	if resp.User == nil || resp.User.Email != user.Email {
		t.Fatalf("expected user dto in response")
	}
}

func TestServiceLoginRejectsWrongPassword(t *testing.T) {
	hashed := mustHashPassword(t, "correct-password")
	user := &models.User{
		ID:           uuid.New(),
		Email:        "rider@example.com",
		PasswordHash: hashed,
		Role:         enums.UserRoleSubscriber,
		IsActive:     true,
	}

	svc, _ := buildTestService(t, user, testJWTConfig())

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    user.Email,
		Password: "wrong-password",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestServiceLoginRejectsInactiveUser(t *testing.T) {
	password := "inactive-secret"
	hashed := mustHashPassword(t, password)
	user := &models.User{
		ID:           uuid.New(),
		Email:        "dormant@example.com",
		PasswordHash: hashed,
		Role:         enums.UserRoleSubscriber,
		IsActive:     false,
	}

	svc, _ := buildTestService(t, user, testJWTConfig())

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    user.Email,
		Password: password,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized error for inactive user, got %v", err)
	}
}

func TestServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := buildTestService(t, nil, testJWTConfig())

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "missing@example.com",
		Password: "whatever",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestServiceRegisterNormalizesAndIssuesToken(t *testing.T) {
	cfg := testJWTConfig()
	svc, repo := buildTestService(t, nil, cfg)

	resp, err := svc.Register(context.Background(), RegisterRequest{
		Email:    " New.Rider@Example.COM ",
		Password: "fresh-password",
		Name:     "  New Rider ",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if repo.created == nil {
		t.Fatalf("expected user to be created")
	}
	if repo.created.Email != "new.rider@example.com" {
		t.Fatalf("expected normalized email, got %q", repo.created.Email)
	}
	if repo.created.Name != "New Rider" {
		t.Fatalf("expected trimmed name, got %q", repo.created.Name)
	}
	if repo.created.Role != enums.UserRoleSubscriber {
		t.Fatalf("expected subscriber role, got %s", repo.created.Role)
	}
	if strings.Contains(repo.created.PasswordHash, "fresh-password") {
		t.Fatalf("password stored in plaintext")
	}

	claims, err := pkgAuth.ParseAccessToken(cfg, resp.AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.Email != "new.rider@example.com" {
		t.Fatalf("unexpected email claim %q", claims.Email)
	}
}

func TestServiceRegisterDuplicateEmail(t *testing.T) {
	svc, repo := buildTestService(t, nil, testJWTConfig())
	repo.createErr = &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_email"}

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "taken@example.com",
		Password: "some-password",
		Name:     "Taken",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

type stubUserRepo struct {
	user             *models.User
	created          *models.User
	createErr        error
	lastLoginUpdates int
}

func (s *stubUserRepo) Create(_ context.Context, dto users.CreateUserDTO) (*models.User, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = dto.ToModel()
	return s.created, nil
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, gorm.ErrRecordNotFound
	}
	return s.user, nil
}

func (s *stubUserRepo) UpdateLastLogin(context.Context, uuid.UUID, time.Time) error {
	s.lastLoginUpdates++
	return nil
}

func buildTestService(t *testing.T, user *models.User, jwtCfg config.JWTConfig) (Service, *stubUserRepo) {
	t.Helper()
	repo := &stubUserRepo{user: user}
	svc, err := NewService(ServiceParams{
		UserRepo:  repo,
		JWTConfig: jwtCfg,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, repo
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "equibox",
		ExpirationMinutes: 30,
	}
}

func mustHashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password, config.PasswordConfig{})
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}
