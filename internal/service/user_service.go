package service

import (
	"context"
	"fmt"

	"storefront-api/internal/auth"
	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"go.uber.org/zap"
)

// UserStore is the persistence surface the user service depends on.
// *store.Store satisfies it; tests substitute an in-memory fake.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	AddWishlistItem(ctx context.Context, userID, productID int64) error
	RemoveWishlistItem(ctx context.Context, userID, productID int64) error
	GetWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error)
}

// UserService handles registration, login, and the session lifecycle
type UserService struct {
	users  UserStore
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users UserStore, tokens *auth.TokenManager) *UserService {
	return &UserService{
		users:  users,
		tokens: tokens,
		logger: util.GetLogger(),
	}
}

// TokenLifetime exposes the session token lifetime for cookie expiry.
func (s *UserService) TokenLifetime() int {
	return int(s.tokens.Lifetime().Seconds())
}

// Register creates an account and issues a fresh session token.
func (s *UserService) Register(ctx context.Context, name, email, password string) (*models.User, string, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return nil, "", ErrEmailTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{Name: name, Email: email, Password: hash}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return user.Sanitized(), token, nil
}

// Login verifies the password and issues a fresh session token.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Login")
	defer span.End()

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !auth.CheckPassword(user.Password, password) {
		util.AuthFailuresTotal.WithLabelValues("bad_credentials").Inc()
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	s.logger.Info("User logged in", zap.Int64("user_id", user.ID))
	return user.Sanitized(), token, nil
}

// Authenticate resolves a session token to a live user record. Any failure
// collapses to ErrUnauthenticated; the reason is kept in logs only.
func (s *UserService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		util.AuthFailuresTotal.WithLabelValues("token_invalid").Inc()
		s.logger.Debug("Token verification failed", zap.Error(err))
		return nil, ErrUnauthenticated
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		util.AuthFailuresTotal.WithLabelValues("unknown_subject").Inc()
		s.logger.Warn("Token subject no longer exists", zap.Int64("user_id", userID))
		return nil, ErrUnauthenticated
	}

	return user.Sanitized(), nil
}

// Refresh re-issues the session wholesale from an authentic but possibly
// expired token. A token whose subject no longer resolves to an account is
// a revoked session and fails with ErrForbidden.
func (s *UserService) Refresh(ctx context.Context, token string) (*models.User, string, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Refresh")
	defer span.End()

	userID, err := s.tokens.VerifyAllowExpired(token)
	if err != nil {
		util.AuthFailuresTotal.WithLabelValues("refresh_invalid").Inc()
		return nil, "", ErrUnauthenticated
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		util.AuthFailuresTotal.WithLabelValues("refresh_revoked").Inc()
		s.logger.Warn("Refresh for revoked session", zap.Int64("user_id", userID))
		return nil, "", ErrForbidden
	}

	fresh, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}

	util.TokenRefreshTotal.Inc()
	s.logger.Info("Session refreshed", zap.Int64("user_id", user.ID))
	return user.Sanitized(), fresh, nil
}

// GetProfile retrieves a user's profile by id.
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user.Sanitized(), nil
}

// UpdateProfileRequest carries optional profile changes; empty fields keep
// their current value.
type UpdateProfileRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfile applies profile changes for a user.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req *UpdateProfileRequest) (*models.User, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UpdateProfile")
	defer span.End()

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Email != "" && req.Email != user.Email {
		other, err := s.users.GetUserByEmail(ctx, req.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to check email: %w", err)
		}
		if other != nil {
			return nil, ErrEmailTaken
		}
		user.Email = req.Email
	}
	if req.Password != "" {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.Password = hash
	}

	if err := s.users.UpdateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user.Sanitized(), nil
}

// AddToWishlist adds a product to the user's wishlist; duplicates are no-ops.
func (s *UserService) AddToWishlist(ctx context.Context, userID, productID int64) error {
	return s.users.AddWishlistItem(ctx, userID, productID)
}

// RemoveFromWishlist removes a product from the user's wishlist.
func (s *UserService) RemoveFromWishlist(ctx context.Context, userID, productID int64) error {
	return s.users.RemoveWishlistItem(ctx, userID, productID)
}

// GetWishlist lists the user's wishlist items.
func (s *UserService) GetWishlist(ctx context.Context, userID int64) ([]models.WishlistItem, error) {
	return s.users.GetWishlist(ctx, userID)
}
