package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskbrain/backend/internal/auth"
	"github.com/taskbrain/backend/internal/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameExists     = errors.New("username already exists")
	ErrEmailExists        = errors.New("email already exists")
	ErrUserNotFound       = errors.New("user not found")

	// ErrDeviceIDMissing: refresh tokens are scoped per device; without a
	// device id there is no row to rotate.
	ErrDeviceIDMissing = errors.New("device id missing")
	// ErrRevokedToken: the token's jti is not the active one for the user,
	// either superseded by a later rotation or never issued.
	ErrRevokedToken = errors.New("refresh token revoked or unknown")

	ErrInvalidResetToken = errors.New("invalid password reset token")
)

type AuthUsecase struct {
	userRepo   domain.UserRepository
	tokenStore domain.RefreshTokenStore
	codec      *auth.Codec
	resetTTL   time.Duration
}

// ResetSession is the slice of the request session the password-reset flow
// needs: the ephemeral cache entry keyed by the session id.
type ResetSession interface {
	CachedValue() (string, bool)
	CachedValueErr() error
	SetCachedValue(ctx context.Context, value string, ttl time.Duration) error
	DeleteCachedValue(ctx context.Context) error
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func NewAuthUsecase(userRepo domain.UserRepository, tokenStore domain.RefreshTokenStore, codec *auth.Codec, resetTTL time.Duration) *AuthUsecase {
	return &AuthUsecase{
		userRepo:   userRepo,
		tokenStore: tokenStore,
		codec:      codec,
		resetTTL:   resetTTL,
	}
}

// Refresh exchanges a valid, still-active refresh token for a new pair and
// rotates the stored row for (user, device). Failures are ordered: missing
// device id, codec errors (auth.ErrMalformedToken / auth.ErrExpiredToken),
// then ErrRevokedToken when the jti has been superseded. The rotation locks
// only the (user, device) pair; refreshes for the user's other devices run
// concurrently.
func (u *AuthUsecase) Refresh(ctx context.Context, refreshToken, deviceID, ip, userAgent, host string) (*TokenPair, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDMissing
	}

	claims, err := u.codec.Verify(refreshToken, host)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, auth.ErrMalformedToken
	}
	jti, err := uuid.Parse(claims.ID)
	if err != nil {
		return nil, auth.ErrMalformedToken
	}

	active, err := u.tokenStore.Exists(ctx, userID, jti)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrRevokedToken
	}

	return u.issuePair(ctx, userID, deviceID, ip, userAgent)
}

// Login authenticates by username or email (the original accepted both) and
// seeds the device's refresh-token row through the same rotation path.
func (u *AuthUsecase) Login(ctx context.Context, login, password, deviceID, ip, userAgent string) (*domain.User, *TokenPair, error) {
	if deviceID == "" {
		return nil, nil, ErrDeviceIDMissing
	}

	user, err := u.userRepo.GetByUsername(login)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		user, err = u.userRepo.GetByEmail(login)
		if err != nil {
			return nil, nil, err
		}
	}
	if user == nil || !user.IsActive {
		return nil, nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := u.issuePair(ctx, user.ID, deviceID, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}

	user.LastLogin = time.Now()
	if err := u.userRepo.Update(user); err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}

func (u *AuthUsecase) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	existing, err := u.userRepo.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}
	existing, err = u.userRepo.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := u.userRepo.Create(user); err != nil {
		return nil, err
	}
	return user, nil
}

// Logout revokes the device's refresh-token row. Emptying the cookie session
// is the handler's side of the contract.
func (u *AuthUsecase) Logout(ctx context.Context, userID uuid.UUID, deviceID string) error {
	if deviceID == "" {
		return ErrDeviceIDMissing
	}
	return u.tokenStore.DeleteAll(ctx, userID, deviceID)
}

func (u *AuthUsecase) GetUserByID(id uuid.UUID) (*domain.User, error) {
	return u.userRepo.GetByID(id)
}

// StartPasswordReset stashes a one-time code in the session's ephemeral
// cache entry. The response to the client never says whether the email
// matched, so an unknown address is a silent no-op.
func (u *AuthUsecase) StartPasswordReset(ctx context.Context, sess ResetSession, email string) error {
	user, err := u.userRepo.GetByEmail(email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	code := uuid.NewString()
	// The cache entry binds the code to the user it resets.
	return sess.SetCachedValue(ctx, user.ID.String()+":"+code, u.resetTTL)
}

// ConfirmPasswordReset consumes the one-time code. An unreachable cache
// propagates as such; it never degrades into "token invalid".
func (u *AuthUsecase) ConfirmPasswordReset(ctx context.Context, sess ResetSession, token, newPassword string) error {
	if err := sess.CachedValueErr(); err != nil {
		return err
	}
	stored, ok := sess.CachedValue()
	if !ok {
		return ErrInvalidResetToken
	}
	userIDStr, code, found := strings.Cut(stored, ":")
	if !found || subtle.ConstantTimeCompare([]byte(code), []byte(token)) != 1 {
		return ErrInvalidResetToken
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return ErrInvalidResetToken
	}

	user, err := u.userRepo.GetByID(userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.PasswordHash = string(hashedPassword)
	if err := u.userRepo.Update(user); err != nil {
		return err
	}

	return sess.DeleteCachedValue(ctx)
}

func (u *AuthUsecase) issuePair(ctx context.Context, userID uuid.UUID, deviceID, ip, userAgent string) (*TokenPair, error) {
	accessToken, err := u.codec.IssueAccess(userID)
	if err != nil {
		return nil, err
	}
	refreshToken, jti, err := u.codec.IssueRefresh(userID)
	if err != nil {
		return nil, err
	}
	if err := u.tokenStore.Rotate(ctx, userID, deviceID, jti, ip, userAgent); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
