package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"catalog-api/internal/domain"
	"catalog-api/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"golang.org/x/crypto/bcrypt"
)

// Mock repositories for testing
type mockUserRepository struct {
	mu     sync.Mutex
	users  map[string]*domain.User
	nextID int64
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{
		users: make(map[string]*domain.User),
	}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[user.Email]; exists {
		return repository.ErrUserAlreadyExists
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.Email] = user
	return nil
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, exists := m.users[email]
	if !exists {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (m *mockUserRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

type mockRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]*domain.RevokedToken
	err     error
}

func newMockRevocationStore() *mockRevocationStore {
	return &mockRevocationStore{
		revoked: make(map[string]*domain.RevokedToken),
	}
}

func (m *mockRevocationStore) Revoke(ctx context.Context, token *domain.RevokedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, exists := m.revoked[token.JTI]; !exists {
		m.revoked[token.JTI] = token
	}
	return nil
}

func (m *mockRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, exists := m.revoked[jti]
	return exists, nil
}

const testSecret = "test-secret"

// fewer cases for properties that hash at BcryptCost
func bcryptParameters() *gopter.TestParameters {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 20
	return params
}

func newTestAuthService() (*authService, *mockUserRepository, *mockRevocationStore) {
	users := newMockUserRepository()
	revocations := newMockRevocationStore()
	svc := NewAuthService(users, revocations, testSecret, time.Hour).(*authService)
	return svc, users, revocations
}

func TestProperty_RegistrationCreatesHashedPasswords(t *testing.T) {
	properties := gopter.NewProperties(bcryptParameters())

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(name, email, password string) bool {
			svc, users, _ := newTestAuthService()
			ctx := context.Background()

			user, err := svc.Register(ctx, name, email, password)
			if err != nil {
				t.Logf("FAIL: Register: %v", err)
				return false
			}

			if user.PasswordHash == password {
				t.Logf("FAIL: Password stored as plaintext for email %s", email)
				return false
			}

			if cost, err := bcrypt.Cost([]byte(user.PasswordHash)); err != nil || cost != BcryptCost {
				t.Logf("FAIL: unexpected bcrypt cost %d (%v)", cost, err)
				return false
			}

			stored, err := users.FindByEmail(ctx, email)
			if err != nil {
				t.Logf("FAIL: Could not find stored user: %v", err)
				return false
			}

			return bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(password)) == nil
		},
		gen.RegexMatch(`[A-Z][a-z]{2,15}`),
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{6,10}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Ann", "ann@example.com", "secret1"); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	_, err := svc.Register(ctx, "Ann Again", "ann@example.com", "secret2")
	if !errors.Is(err, repository.ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}
}

func TestProperty_LoginTokenVerifies(t *testing.T) {
	properties := gopter.NewProperties(bcryptParameters())

	properties.Property("a login token verifies to the user's id", prop.ForAll(
		func(email, password string) bool {
			svc, _, _ := newTestAuthService()
			ctx := context.Background()

			user, err := svc.Register(ctx, "Tester", email, password)
			if err != nil {
				return false
			}

			token, err := svc.Authenticate(ctx, email, password)
			if err != nil {
				t.Logf("FAIL: Authenticate: %v", err)
				return false
			}

			claims, err := svc.Verify(ctx, token)
			if err != nil {
				t.Logf("FAIL: Verify: %v", err)
				return false
			}

			return claims.UserID == user.ID &&
				claims.ID != "" &&
				claims.ExpiresAt != nil &&
				claims.IssuedAt != nil &&
				claims.ExpiresAt.Sub(claims.IssuedAt.Time) == time.Hour
		},
		gen.RegexMatch(`[a-z]{3,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9]{6,10}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestAuthenticate_BadCredentials(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "Ann", "ann@example.com", "secret1"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "ann@example.com", "secret2"},
		{"unknown email", "bob@example.com", "secret1"},
		{"empty password", "ann@example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Authenticate(ctx, tt.email, tt.password)
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("expected ErrInvalidCredentials, got %v", err)
			}
			if token != "" {
				t.Fatal("no token should be returned")
			}
		})
	}
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()
	user := &domain.User{ID: 42}

	good, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := NewAuthService(newMockUserRepository(), newMockRevocationStore(), "other-secret", time.Hour)
	foreign, _ := other.Issue(user)

	noJTI := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID:           42,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	noJTIString, _ := noJTI.SignedString([]byte(testSecret))

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsignedString, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"tampered", good + "x"},
		{"wrong secret", foreign},
		{"missing jti", noJTIString},
		{"alg none", unsignedString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(ctx, tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	svc, _, _ := newTestAuthService()

	issuedAt := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.Issue(&domain.User{ID: 1})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	svc.now = time.Now

	if _, err := svc.Verify(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestProperty_LogoutInvalidatesToken(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("an invalidated token no longer verifies, and invalidating twice succeeds", prop.ForAll(
		func(userID int64) bool {
			svc, _, revocations := newTestAuthService()
			ctx := context.Background()

			token, err := svc.Issue(&domain.User{ID: userID})
			if err != nil {
				return false
			}
			if _, err := svc.Verify(ctx, token); err != nil {
				t.Logf("FAIL: token should verify before logout: %v", err)
				return false
			}

			for i := 0; i < 2; i++ {
				if err := svc.Invalidate(ctx, token); err != nil {
					t.Logf("FAIL: Invalidate #%d: %v", i+1, err)
					return false
				}
			}

			if _, err := svc.Verify(ctx, token); !errors.Is(err, ErrTokenRevoked) {
				t.Logf("FAIL: expected ErrTokenRevoked, got %v", err)
				return false
			}

			return len(revocations.revoked) == 1
		},
		gen.Int64Range(1, 1<<40),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestInvalidate_RecordsExpiry(t *testing.T) {
	svc, _, revocations := newTestAuthService()
	ctx := context.Background()

	token, _ := svc.Issue(&domain.User{ID: 3})
	claims, err := svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	if err := svc.Invalidate(ctx, token); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	record := revocations.revoked[claims.ID]
	if record == nil || record.UserID != 3 || !record.ExpiresAt.Equal(claims.ExpiresAt.Time) {
		t.Fatalf("unexpected revocation record: %+v", record)
	}
}

func TestInvalidate_Failures(t *testing.T) {
	svc, _, revocations := newTestAuthService()
	ctx := context.Background()

	if err := svc.Invalidate(ctx, "garbage"); !errors.Is(err, ErrInvalidationFailed) {
		t.Fatalf("malformed token: expected ErrInvalidationFailed, got %v", err)
	}

	token, _ := svc.Issue(&domain.User{ID: 1})
	revocations.err = errors.New("connection refused")
	if err := svc.Invalidate(ctx, token); !errors.Is(err, ErrInvalidationFailed) {
		t.Fatalf("store failure: expected ErrInvalidationFailed, got %v", err)
	}
}

func TestVerify_StoreFailureIsNotAnAuthError(t *testing.T) {
	svc, _, revocations := newTestAuthService()

	token, _ := svc.Issue(&domain.User{ID: 1})
	revocations.err = errors.New("connection refused")

	_, err := svc.Verify(context.Background(), token)
	if err == nil || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected a storage error, got %v", err)
	}
}

func TestCurrentUser(t *testing.T) {
	svc, _, _ := newTestAuthService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := svc.CurrentUser(ctx, user.ID)
	if err != nil || got.Email != "ann@example.com" {
		t.Fatalf("CurrentUser = (%+v, %v)", got, err)
	}

	if _, err := svc.CurrentUser(ctx, 999); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("deleted account: expected ErrInvalidToken, got %v", err)
	}
}
