package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"mindmate-be/internal/constant"
	"mindmate-be/internal/dto"
	"mindmate-be/internal/entity"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/repository/specification"
	"mindmate-be/internal/repository/unitofwork"
	"mindmate-be/pkg/events"
	"mindmate-be/pkg/token"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	DefaultBcryptCost = 12
	// bcrypt ignores everything past 72 bytes and newer x/crypto rejects longer input.
	maxPasswordBytes = 72
)

type IAuthService interface {
	Register(ctx context.Context, req *dto.AuthRequest) (*dto.TokenResponse, error)
	Login(ctx context.Context, req *dto.AuthRequest) (*dto.TokenResponse, error)
}

type authService struct {
	uowFactory   unitofwork.RepositoryFactory
	tokenService token.IService
	publisher    IPublisherService
	logger       logger.ILogger
	bcryptCost   int
	now          func() time.Time
}

type AuthOption func(*authService)

func WithBcryptCost(cost int) AuthOption {
	return func(s *authService) {
		s.bcryptCost = cost
	}
}

func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *authService) {
		s.now = now
	}
}

func NewAuthService(
	uowFactory unitofwork.RepositoryFactory,
	tokenService token.IService,
	publisher IPublisherService,
	log logger.ILogger,
	opts ...AuthOption,
) IAuthService {
	s := &authService{
		uowFactory:   uowFactory,
		tokenService: tokenService,
		publisher:    publisher,
		logger:       log,
		bcryptCost:   DefaultBcryptCost,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func truncatePassword(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

func (s *authService) Register(ctx context.Context, req *dto.AuthRequest) (*dto.TokenResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	email := normalizeEmail(req.Email)

	// 1. Check for existing user
	count, err := uow.UserRepository().Count(ctx, specification.ByEmail{Email: email})
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrConflict
	}

	// 2. Hash password
	hash, err := bcrypt.GenerateFromPassword(truncatePassword(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		Id:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}

	// 3. Save; the unique index settles a race between two registrations.
	if err := uow.UserRepository().Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConflict
		}
		return nil, err
	}

	accessToken, err := s.tokenService.Issue(user.Id.String())
	if err != nil {
		return nil, err
	}

	s.logger.Info("AUTH", "User registered", map[string]interface{}{"user_id": user.Id.String()})
	s.publisher.Publish(ctx, events.New(constant.EventUserRegistered, map[string]interface{}{
		"user_id": user.Id.String(),
		"email":   user.Email,
	}, s.now()))

	return &dto.TokenResponse{AccessToken: accessToken, TokenType: "bearer"}, nil
}

func (s *authService) Login(ctx context.Context, req *dto.AuthRequest) (*dto.TokenResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	// Unknown email and wrong password produce the same error.
	user, err := uow.UserRepository().FindOne(ctx, specification.ByEmail{Email: normalizeEmail(req.Email)})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), truncatePassword(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := s.tokenService.Issue(user.Id.String())
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(constant.EventUserLogin, map[string]interface{}{
		"user_id": user.Id.String(),
	}, s.now()))

	return &dto.TokenResponse{AccessToken: accessToken, TokenType: "bearer"}, nil
}
