package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-api/internal/domain"
	"catalog-api/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 10

	// DefaultAccessTokenTTL applies when no lifetime is configured
	DefaultAccessTokenTTL = 60 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrInvalidationFailed = errors.New("token could not be invalidated")
)

// TokenService issues and checks bearer tokens
type TokenService interface {
	Issue(user *domain.User) (string, error)
	Verify(ctx context.Context, tokenString string) (*Claims, error)
	Invalidate(ctx context.Context, tokenString string) error
}

// AuthService covers accounts and the tokens that prove them
type AuthService interface {
	TokenService
	Register(ctx context.Context, name, email, password string) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	CurrentUser(ctx context.Context, userID int64) (*domain.User, error)
}

// Claims represents the JWT claims. The registered ID claim carries the jti.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

type authService struct {
	userRepo    repository.UserRepository
	revocations repository.RevocationStore
	jwtSecret   []byte
	accessTTL   time.Duration
	now         func() time.Time
}

// NewAuthService creates a new instance of AuthService
func NewAuthService(
	userRepo repository.UserRepository,
	revocations repository.RevocationStore,
	jwtSecret string,
	accessTTL time.Duration,
) AuthService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	return &authService{
		userRepo:    userRepo,
		revocations: revocations,
		jwtSecret:   []byte(jwtSecret),
		accessTTL:   accessTTL,
		now:         time.Now,
	}
}

// Register creates a new user account with hashed password
func (s *authService) Register(ctx context.Context, name, email, password string) (*domain.User, error) {
	existingUser, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existingUser != nil {
		return nil, repository.ErrUserAlreadyExists
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hashedPassword,
	}

	// the unique index still decides when two registrations race
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Authenticate checks the credentials and issues a token for the user
func (s *authService) Authenticate(ctx context.Context, email, password string) (string, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// compare anyway so unknown emails take as long as wrong passwords
			_ = verifyPassword(dummyHash(), password)
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to find user: %w", err)
	}

	if err := verifyPassword(user.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.Issue(user)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return token, nil
}

// Issue signs an access token for the user
func (s *authService) Issue(user *domain.User) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// Verify validates the signature and expiry and rejects revoked tokens
func (s *authService) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// Invalidate revokes the token until it expires. Invalidating a token twice succeeds.
func (s *authService) Invalidate(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
	}

	err = s.revocations.Revoke(ctx, &domain.RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Time,
		RevokedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
	}

	return nil
}

// CurrentUser loads the account a verified token belongs to
func (s *authService) CurrentUser(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *authService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID <= 0 || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func hashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

func verifyPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

var dummyHash = sync.OnceValue(func() string {
	hash, _ := hashPassword("not-a-real-password")
	return hash
})
