package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
)

// UserStore is the slice of the user repository the auth endpoints need.
type UserStore interface {
	EmailTaken(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, user *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
	LinkTelegramChat(ctx context.Context, userID, chatID string) error
}

// UserHandler serves registration, login and profile endpoints. Tokens carry
// the tenant claim every other endpoint is scoped by.
type UserHandler struct {
	users      UserStore
	auth       *middleware.AuthMiddleware
	tokenTTL   time.Duration
	bcryptCost int
	logger     *logrus.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users UserStore, auth *middleware.AuthMiddleware, tokenTTL time.Duration, bcryptCost int, logger *logrus.Logger) *UserHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserHandler{
		users:      users,
		auth:       auth,
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Register creates a user and returns a signed token for it.
func (h *UserHandler) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	role := req.Role
	if role == "" {
		role = models.RoleAgent
	}
	if role != models.RoleAdmin && role != models.RoleAnalyst && role != models.RoleAgent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid role"})
		return
	}

	taken, err := h.users.EmailTaken(c.Request.Context(), req.Email)
	if err != nil {
		middleware.RecordError(c, err, "email availability check failed")
		h.logger.WithError(err).Error("Failed to check email availability")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email availability"})
		return
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.bcryptCost)
	if err != nil {
		h.logger.WithError(err).Error("Failed to hash password")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.TelegramChatID != "" {
		chatID := req.TelegramChatID
		user.TelegramChatID = &chatID
	}

	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		middleware.RecordError(c, err, "user insert failed")
		h.logger.WithError(err).Error("Failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": user.TenantID,
		"user_id":   user.ID,
		"role":      user.Role,
	}).Info("User registered")

	h.respondWithToken(c, http.StatusCreated, user)
}

// Login verifies credentials and returns a signed token.
func (h *UserHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := h.users.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		middleware.RecordError(c, err, "user load failed")
		h.logger.WithError(err).Error("Failed to load user for login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": user.TenantID,
		"user_id":   user.ID,
	}).Info("User logged in")

	h.respondWithToken(c, http.StatusOK, user)
}

// Profile returns the authenticated user's record.
func (h *UserHandler) Profile(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	user, err := h.users.UserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		middleware.RecordError(c, err, "user load failed")
		h.logger.WithError(err).Error("Failed to load user profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user.ToResponse()})
}

type linkTelegramRequest struct {
	TelegramChatID string `json:"telegram_chat_id" binding:"required"`
}

// LinkTelegram binds a Telegram chat to the authenticated user so the bot
// answers that chat under the user's tenant.
func (h *UserHandler) LinkTelegram(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req linkTelegramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram_chat_id is required"})
		return
	}

	user, err := h.users.UserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		middleware.RecordError(c, err, "user load failed")
		h.logger.WithError(err).Error("Failed to load user for telegram link")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	if err := h.users.LinkTelegramChat(c.Request.Context(), userID, req.TelegramChatID); err != nil {
		middleware.RecordError(c, err, "telegram chat link failed")
		h.logger.WithError(err).Error("Failed to link telegram chat")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to link Telegram chat"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": user.TenantID,
		"user_id":   user.ID,
	}).Info("Telegram chat linked")

	resp := user.ToResponse()
	resp.TelegramChatID = req.TelegramChatID
	c.JSON(http.StatusOK, gin.H{"user": resp})
}

func (h *UserHandler) respondWithToken(c *gin.Context, status int, user *models.User) {
	token, err := h.auth.GenerateToken(user.TenantID, user.ID, user.Email, h.tokenTTL)
	if err != nil {
		h.logger.WithError(err).Error("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(status, models.AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.tokenTTL),
		User:      user.ToResponse(),
	})
}
