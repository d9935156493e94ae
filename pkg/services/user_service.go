// Package services implements the domain logic between the HTTP layer and
// the Postgres store. Services return sentinel errors from errors.go; the
// API layer maps them to status codes.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vexa-ai/vexa/pkg/models"
)

const (
	tokenLength  = 40
	tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	uniqueViolationCode = "23505"
)

// CreateUserInput carries the fields accepted when provisioning a user.
type CreateUserInput struct {
	Email             string
	Name              *string
	ImageURL          *string
	MaxConcurrentBots *int
}

// UpdateUserInput carries the patchable user fields. Nil means "leave as is".
// WebhookURL is stored under the user's data mapping.
type UpdateUserInput struct {
	Name              *string
	ImageURL          *string
	MaxConcurrentBots *int
	WebhookURL        *string
}

// UserService manages users and their API tokens.
type UserService struct {
	pool *pgxpool.Pool
}

// NewUserService creates a new UserService.
func NewUserService(pool *pgxpool.Pool) *UserService {
	if pool == nil {
		panic("NewUserService: pool must not be nil")
	}
	return &UserService{pool: pool}
}

// GetUserByToken resolves an API token to its owning user. Unknown tokens
// return ErrNotFound.
func (s *UserService) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.name, u.image_url, u.max_concurrent_bots, u.data, u.created_at
		FROM users u
		JOIN api_tokens t ON t.user_id = u.id
		WHERE t.token = $1`, token)
	return scanUser(row)
}

// CreateUser provisions a new user. Duplicate emails return ErrAlreadyExists.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	if input.Email == "" {
		return nil, NewValidationError("email", "email is required")
	}
	maxBots := 1
	if input.MaxConcurrentBots != nil {
		maxBots = *input.MaxConcurrentBots
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, image_url, max_concurrent_bots)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, name, image_url, max_concurrent_bots, data, created_at`,
		input.Email, input.Name, input.ImageURL, maxBots)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %s", ErrAlreadyExists, input.Email)
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail looks up a user by email.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, image_url, max_concurrent_bots, data, created_at
		FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// GetUser fetches a user by id.
func (s *UserService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, image_url, max_concurrent_bots, data, created_at
		FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

// ListUsers returns users ordered by id with offset/limit paging.
func (s *UserService) ListUsers(ctx context.Context, skip, limit int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, image_url, max_concurrent_bots, data, created_at
		FROM users ORDER BY id OFFSET $1 LIMIT $2`, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUser patches a user's profile. A webhook URL is merged into the
// user's data mapping without disturbing other keys.
func (s *UserService) UpdateUser(ctx context.Context, userID int64, input UpdateUserInput) (*models.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			image_url = COALESCE($3, image_url),
			max_concurrent_bots = COALESCE($4, max_concurrent_bots),
			data = CASE WHEN $5::text IS NULL THEN data
			            ELSE data || jsonb_build_object('webhook_url', $5::text) END
		WHERE id = $1
		RETURNING id, email, name, image_url, max_concurrent_bots, data, created_at`,
		userID, input.Name, input.ImageURL, input.MaxConcurrentBots, input.WebhookURL)
	return scanUser(row)
}

// CreateToken mints a fresh API token for a user.
func (s *UserService) CreateToken(ctx context.Context, userID int64) (*models.APIToken, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	value, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	token := &models.APIToken{}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO api_tokens (token, user_id) VALUES ($1, $2)
		RETURNING id, token, user_id, created_at`,
		value, userID).Scan(&token.ID, &token.Token, &token.UserID, &token.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}
	return token, nil
}

// ListTokens returns a user's tokens, newest first.
func (s *UserService) ListTokens(ctx context.Context, userID int64) ([]*models.APIToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, token, user_id, created_at
		FROM api_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*models.APIToken
	for rows.Next() {
		t := &models.APIToken{}
		if err := rows.Scan(&t.ID, &t.Token, &t.UserID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteToken revokes one of a user's tokens. Deleting a token that does not
// belong to the user returns ErrNotFound.
func (s *UserService) DeleteToken(ctx context.Context, userID, tokenID int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM api_tokens WHERE id = $1 AND user_id = $2`, tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func generateToken() (string, error) {
	out := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenCharset)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenCharset[n.Int64()]
	}
	return string(out), nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.ImageURL,
		&user.MaxConcurrentBots, &user.Data, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
