package database

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

// UserRepository handles the users table. Authentication handlers and the
// Telegram bot are its only consumers; customer-facing analytics never touch
// user records.
type UserRepository struct {
	pool DatabasePool
}

// NewUserRepository creates a new user repository.
//
// Parameters:
//   pool: The database connection pool.
//
// Returns:
//   *UserRepository: A pointer to the initialized repository.
func NewUserRepository(pool DatabasePool) *UserRepository {
	return &UserRepository{pool: pool}
}

// EmailTaken reports whether a user with the given email already exists.
//
// Parameters:
//   ctx: The context for the operation.
//   email: The email to check.
//
// Returns:
//   bool: True when the email is already registered.
//   error: An error if the query fails.
func (r *UserRepository) EmailTaken(ctx context.Context, email string) (bool, error) {
	query := `SELECT COUNT(*) FROM users WHERE email = $1`

	var count int
	if err := r.pool.QueryRow(ctx, query, email).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check user email: %w", err)
	}
	return count > 0, nil
}

// CreateUser inserts a new user record.
//
// Parameters:
//   ctx: The context for the operation.
//   user: The user to persist. ID, TenantID, Email, PasswordHash, Role and
//     timestamps must already be set by the caller.
//
// Returns:
//   error: An error if the insert fails.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, password_hash, role, telegram_chat_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.TenantID, user.Email, user.PasswordHash, user.Role,
		user.TelegramChatID, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail loads a user by email for login verification.
//
// Parameters:
//   ctx: The context for the operation.
//   email: The login email.
//
// Returns:
//   *models.User: The user record including the password hash.
//   error: An error if the query fails or no user matches.
func (r *UserRepository) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, password_hash, role, telegram_chat_id, created_at, updated_at
		FROM users
		WHERE email = $1`

	var user models.User
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role,
		&user.TelegramChatID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}
	return &user, nil
}

// UserByID loads a user by primary key.
//
// Parameters:
//   ctx: The context for the operation.
//   userID: The user identifier.
//
// Returns:
//   *models.User: The user record.
//   error: An error if the query fails or no user matches.
func (r *UserRepository) UserByID(ctx context.Context, userID string) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, password_hash, role, telegram_chat_id, created_at, updated_at
		FROM users
		WHERE id = $1`

	var user models.User
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role,
		&user.TelegramChatID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user by id: %w", err)
	}
	return &user, nil
}

// UserByTelegramChat loads the user linked to a Telegram chat. The bot uses
// it to resolve which tenant an incoming chat message may query.
//
// Parameters:
//   ctx: The context for the operation.
//   chatID: The Telegram chat identifier.
//
// Returns:
//   *models.User: The linked user.
//   error: An error if the query fails or no user is linked to the chat.
func (r *UserRepository) UserByTelegramChat(ctx context.Context, chatID string) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, password_hash, role, telegram_chat_id, created_at, updated_at
		FROM users
		WHERE telegram_chat_id = $1`

	var user models.User
	err := r.pool.QueryRow(ctx, query, chatID).Scan(
		&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role,
		&user.TelegramChatID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user by telegram chat: %w", err)
	}
	return &user, nil
}

// LinkTelegramChat binds a Telegram chat to an existing user so the bot can
// answer queries on that chat under the user's tenant.
//
// Parameters:
//   ctx: The context for the operation.
//   userID: The user to update.
//   chatID: The Telegram chat identifier.
//
// Returns:
//   error: An error if the update fails or the user does not exist.
func (r *UserRepository) LinkTelegramChat(ctx context.Context, userID, chatID string) error {
	query := `
		UPDATE users
		SET telegram_chat_id = $2, updated_at = $3
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, chatID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to link telegram chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}

// UsersWithTelegramChat lists the tenant's users that have a Telegram chat
// linked. Digest notifications go to exactly this set.
//
// Parameters:
//   ctx: The context for the operation.
//   tenantID: The tenant whose users are listed.
//
// Returns:
//   []models.User: Users with a non-empty telegram_chat_id.
//   error: An error if the query fails.
func (r *UserRepository) UsersWithTelegramChat(ctx context.Context, tenantID string) ([]models.User, error) {
	query := `
		SELECT id, tenant_id, email, password_hash, role, telegram_chat_id, created_at, updated_at
		FROM users
		WHERE tenant_id = $1
		  AND telegram_chat_id IS NOT NULL
		  AND telegram_chat_id != ''
		ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list telegram users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID, &user.TenantID, &user.Email, &user.PasswordHash, &user.Role,
			&user.TelegramChatID, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user rows: %w", err)
	}

	return users, nil
}

// TenantIDs lists every tenant that has at least one user. The digest
// scheduler iterates this set.
//
// Parameters:
//   ctx: The context for the operation.
//
// Returns:
//   []string: Distinct tenant identifiers in stable order.
//   error: An error if the query fails.
func (r *UserRepository) TenantIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id
		FROM users
		ORDER BY tenant_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tenant rows: %w", err)
	}

	return tenants, nil
}
