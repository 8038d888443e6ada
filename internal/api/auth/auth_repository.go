package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	database "github.com/rmendes/go-sso-identity/app/db"
	"github.com/rmendes/go-sso-identity/app/observability/metrics"
	"github.com/rmendes/go-sso-identity/internal/types"
)

var _ TokenRepo = (*PostgresTokenRepo)(nil)

// TokenRepo defines the contract for refresh token persistence. Tokens are
// opaque single-use strings; presenting one consumes it.
type TokenRepo interface {
	// StoreRefreshToken persists a newly minted refresh token.
	StoreRefreshToken(ctx context.Context, token types.RefreshToken) error

	// RotateRefreshToken consumes the presented token and installs its
	// replacement in one transaction. Returns the owning user id.
	// An unknown token is types.ErrInvalidCredential. An expired token is
	// deleted and reported as types.ErrExpiredCredential; no replacement
	// is installed.
	RotateRefreshToken(ctx context.Context, presented, replacement string, replacementExpiry time.Time) (int64, error)

	// DeleteRefreshToken revokes a single token.
	// Unknown tokens are types.ErrInvalidCredential.
	DeleteRefreshToken(ctx context.Context, token string) error

	// DeleteAllUserRefreshTokens revokes every session a user holds.
	DeleteAllUserRefreshTokens(ctx context.Context, userID int64) error

	// DeleteExpiredRefreshTokens sweeps tokens past their expiry and
	// returns how many were removed.
	DeleteExpiredRefreshTokens(ctx context.Context) (int64, error)
}

// PostgresTokenRepo stores refresh tokens in the refresh_tokens table.
type PostgresTokenRepo struct {
	logger *slog.Logger
	pgpool database.PGXPool
}

func NewPostgresTokenRepo(pgpool database.PGXPool, logger *slog.Logger) *PostgresTokenRepo {
	return &PostgresTokenRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

func (r *PostgresTokenRepo) storageError(ctx context.Context, op string, err error) error {
	metrics.App().DbQueryErrorsTotal.Add(ctx, 1)
	r.logger.ErrorContext(ctx, "Database query failed",
		slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, types.ErrStorageUnavailable)
}

func (r *PostgresTokenRepo) StoreRefreshToken(ctx context.Context, token types.RefreshToken) error {
	_, err := r.pgpool.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)`, token.Token, token.UserID, token.ExpiresAt)
	if err != nil {
		return r.storageError(ctx, "store refresh token", err)
	}
	return nil
}

// RotateRefreshToken deletes the presented token and inserts the
// replacement in a single transaction, so a token can never be redeemed
// twice and a consumed token always leaves exactly one successor behind.
func (r *PostgresTokenRepo) RotateRefreshToken(ctx context.Context, presented, replacement string, replacementExpiry time.Time) (int64, error) {
	tx, err := r.pgpool.Begin(ctx)
	if err != nil {
		return 0, r.storageError(ctx, "rotate refresh token", err)
	}
	defer tx.Rollback(ctx)

	consumed := types.RefreshToken{Token: presented}
	err = tx.QueryRow(ctx, `
		DELETE FROM refresh_tokens WHERE token = $1
		RETURNING user_id, expires_at`, presented).Scan(&consumed.UserID, &consumed.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("rotate refresh token: %w", types.ErrInvalidCredential)
		}
		return 0, r.storageError(ctx, "rotate refresh token", err)
	}

	if time.Now().After(consumed.ExpiresAt) {
		// Keep the delete: an expired token must not be redeemable later.
		if err := tx.Commit(ctx); err != nil {
			return 0, r.storageError(ctx, "rotate refresh token", err)
		}
		return 0, fmt.Errorf("rotate refresh token: %w", types.ErrExpiredCredential)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)`, replacement, consumed.UserID, replacementExpiry)
	if err != nil {
		return 0, r.storageError(ctx, "rotate refresh token", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, r.storageError(ctx, "rotate refresh token", err)
	}
	return consumed.UserID, nil
}

func (r *PostgresTokenRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE token = $1", token)
	if err != nil {
		return r.storageError(ctx, "delete refresh token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete refresh token: %w", types.ErrInvalidCredential)
	}
	return nil
}

func (r *PostgresTokenRepo) DeleteAllUserRefreshTokens(ctx context.Context, userID int64) error {
	_, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE user_id = $1", userID)
	if err != nil {
		return r.storageError(ctx, "delete user refresh tokens", err)
	}
	return nil
}

func (r *PostgresTokenRepo) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM refresh_tokens WHERE expires_at < now()")
	if err != nil {
		return 0, r.storageError(ctx, "delete expired refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}
