package auth

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	sharedauth "breva-backend/internal/shared/auth"
	"breva-backend/internal/shared/server/respond"
	"breva-backend/internal/users"
)

const minPasswordLength = 8

// UserStore is the subset of the users service the auth flows need.
type UserStore interface {
	UpsertFromAuth(ctx context.Context, user users.User) error
	Create(ctx context.Context, user users.User) error
	GetByID(ctx context.Context, userID string) (users.User, error)
	GetByEmail(ctx context.Context, email string) (users.User, error)
}

// CredentialsHandler serves email/password registration and login.
type CredentialsHandler struct {
	Users UserStore
	// Cost defaults to bcrypt.DefaultCost.
	Cost int
}

func NewCredentialsHandler(store UserStore) *CredentialsHandler {
	return &CredentialsHandler{Users: store, Cost: bcrypt.DefaultCost}
}

func (h *CredentialsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/register", h.register)
	rg.POST("/auth/login", h.login)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	Token string     `json:"token"`
	User  users.User `json:"user"`
}

func (h *CredentialsHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email and password are required", nil)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid email", nil)
		return
	}
	if len(req.Password) < minPasswordLength {
		respond.Error(c, http.StatusBadRequest, "validation_error", "password must be at least 8 characters", nil)
		return
	}

	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), cost)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "password cannot be used", nil)
		return
	}

	user := users.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(req.Name),
		Role:         users.RoleUser,
		PasswordHash: string(hash),
	}
	if err := h.Users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, users.ErrEmailTaken) {
			respond.Error(c, http.StatusConflict, "email_taken", "email already registered", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to register", nil)
		return
	}
	created, err := h.Users.GetByID(c.Request.Context(), user.ID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to register", nil)
		return
	}

	token, err := issueToken(created)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}
	respond.Created(c, tokenResponse{Token: token, User: created})
}

func (h *CredentialsHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email and password are required", nil)
		return
	}

	user, err := h.Users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil && !errors.Is(err, users.ErrNotFound) {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to login", nil)
		return
	}
	// Same response for unknown email, OAuth-only account and bad password.
	if err != nil || user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		respond.Error(c, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", nil)
		return
	}

	token, err := issueToken(user)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to issue token", nil)
		return
	}
	respond.OK(c, tokenResponse{Token: token, User: user})
}

func issueToken(user users.User) (string, error) {
	role := string(user.Role)
	if role == "" {
		role = string(users.RoleUser)
	}
	return sharedauth.SignJWT(sharedauth.Claims{
		Sub:     user.ID,
		Email:   user.Email,
		Name:    user.FullName,
		Picture: user.PictureURL,
		Role:    role,
	})
}
