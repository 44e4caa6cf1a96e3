package models

import (
	"time"
)

// User represents a platform user. Users always belong to exactly one
// tenant; the tenant claim in their tokens comes from this record.
type User struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"tenant_id" db:"tenant_id"`
	Email          string    `json:"email" db:"email"`
	PasswordHash   string    `json:"-" db:"password_hash"`
	Role           string    `json:"role" db:"role"`
	TelegramChatID *string   `json:"telegram_chat_id" db:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// User roles. Analysts can run every engine; agents are limited to the
// query endpoints by the route configuration.
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleAgent   = "agent"
)

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	TenantID       string `json:"tenant_id" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Password       string `json:"password" binding:"required,min=8"`
	Role           string `json:"role"`
	TelegramChatID string `json:"telegram_chat_id"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UserResponse represents user information for API responses.
type UserResponse struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuthResponse carries the signed token a successful login or registration
// returns.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// ToResponse converts a User into its API representation.
func (u *User) ToResponse() UserResponse {
	resp := UserResponse{
		ID:        u.ID,
		TenantID:  u.TenantID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
	if u.TelegramChatID != nil {
		resp.TelegramChatID = *u.TelegramChatID
	}
	return resp
}
