package httpapi

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"tindapos/internal/cache"
	"tindapos/internal/domain"
	"tindapos/internal/store"
)

// UserDirectory is the slice of the service layer the auth manager
// needs. *service.Service satisfies it.
type UserDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	LogEvent(ctx context.Context, event string)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	resetTTL time.Duration
	users    UserDirectory
	tokens   cache.TokenStore
}

type posClaims struct {
	jwtlib.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserDirectory, tokens cache.TokenStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
		log.Printf("[auth] WARN: AUTH_SECRET not set, using insecure development secret")
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		resetTTL: time.Hour,
		users:    users,
		tokens:   tokens,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	account, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	a.users.LogEvent(ctx, "User "+account.Username+" logged in")

	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register creates a self-service account. Self-registered users are
// always owners; admin accounts come from the user admin endpoint.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	return a.users.CreateUser(ctx, domain.UserCreateRequest{
		Username: req.Username,
		Password: req.Password,
		Role:     domain.RoleOwner,
	})
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{UserID: claims.UserID, Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(account *domain.UserAccount, expiresAt time.Time) (string, error) {
	claims := posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "tindapos",
		},
		UserID: account.ID,
		Role:   account.Role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ForgotPassword issues a single-use reset token for the account. The
// token is written to the server log for the operator to relay; the
// response never reveals whether the username exists.
func (a *AuthManager) ForgotPassword(ctx context.Context, req domain.ForgotPasswordRequest) error {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil
	}
	account, err := a.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	token := uuid.NewString()
	if err := a.tokens.Put(ctx, token, account.Username, a.resetTTL); err != nil {
		return err
	}

	log.Printf("[auth] password reset token for %s: %s (valid %s)", account.Username, token, a.resetTTL)
	a.users.LogEvent(ctx, "Password reset requested for user "+account.Username)
	return nil
}

func (a *AuthManager) ResetPassword(ctx context.Context, req domain.ResetPasswordRequest) error {
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return cache.ErrTokenNotFound
	}

	username, err := a.tokens.Take(ctx, token)
	if err != nil {
		return err
	}
	return a.users.UpdateUserPassword(ctx, username, req.Password)
}
