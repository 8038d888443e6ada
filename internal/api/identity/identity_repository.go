package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	database "github.com/rmendes/go-sso-identity/app/db"
	"github.com/rmendes/go-sso-identity/app/observability/metrics"
	"github.com/rmendes/go-sso-identity/internal/types"
)

var _ Repo = (*PostgresRepo)(nil)

// Repo defines the contract for identity persistence: users, roles, groups
// and the membership edges between them. The durable store owns uniqueness;
// callers treat types.ErrConflict as an expected race outcome.
type Repo interface {
	// GetUserByID retrieves a user by its store-assigned id.
	// Returns types.ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id int64) (*types.User, error)

	// GetUserByUsername retrieves a user by its unique username.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)

	// GetUserByEmailAndProvider resolves the identity key. This is the
	// hot path during login normalization and always reflects the latest
	// committed state.
	GetUserByEmailAndProvider(ctx context.Context, email, provider string) (*types.User, error)

	// CreateUser inserts a new user and returns the canonical record with
	// its store-assigned id. Returns types.ErrConflict when the
	// (email, auth_provider) constraint is violated concurrently.
	CreateUser(ctx context.Context, params types.UserCreateParams) (*types.User, error)

	// DeleteUser removes a user; role assignments and group memberships
	// cascade at the store.
	DeleteUser(ctx context.Context, id int64) error

	// UpdateLastSeen stamps the user's last_seen column.
	UpdateLastSeen(ctx context.Context, id int64) error

	// GetUserRoles returns the user's current role names via the
	// user_roles join. Empty slice when the user holds no roles.
	GetUserRoles(ctx context.Context, id int64) ([]string, error)

	// AssignRole grants a named role to a user. Granting an already held
	// role is a no-op. Returns types.ErrNotFound for an unknown role.
	AssignRole(ctx context.Context, userID int64, roleName string) error

	CreateGroup(ctx context.Context, name string) (*types.Group, error)
	GetGroupByID(ctx context.Context, id int64) (*types.Group, error)
	GetGroupByName(ctx context.Context, name string) (*types.Group, error)
	DeleteGroup(ctx context.Context, id int64) error

	// AddUserToGroup creates a membership edge. Adding an existing member
	// is a no-op; a missing user or group is types.ErrNotFound.
	AddUserToGroup(ctx context.Context, userID, groupID int64) error
	RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error

	GetUserGroupIDs(ctx context.Context, userID int64) ([]int64, error)
	GetGroupUserIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// PostgresRepo is the durable store on top of a pgx pool.
type PostgresRepo struct {
	logger *slog.Logger
	pgpool database.PGXPool
}

func NewPostgresRepo(pgpool database.PGXPool, logger *slog.Logger) *PostgresRepo {
	return &PostgresRepo{
		logger: logger,
		pgpool: pgpool,
	}
}

const userColumns = `id, username, email, full_name, bio, profile_picture_url,
       phone_number, status, is_active, is_verified, auth_provider,
       password_hash, last_seen, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Bio,
		&u.ProfilePictureURL, &u.PhoneNumber, &u.Status, &u.IsActive,
		&u.IsVerified, &u.AuthProvider, &u.PasswordHash, &u.LastSeen,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// storageError logs the underlying driver error and returns the taxonomy
// error callers can match on. Store errors are never folded into not-found.
func (r *PostgresRepo) storageError(ctx context.Context, op string, err error) error {
	metrics.App().DbQueryErrorsTotal.Add(ctx, 1)
	r.logger.ErrorContext(ctx, "Database query failed",
		slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, types.ErrStorageUnavailable)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (r *PostgresRepo) GetUserByID(ctx context.Context, id int64) (*types.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)
	user, err := scanUser(r.pgpool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user by id: %w", types.ErrNotFound)
		}
		return nil, r.storageError(ctx, "get user by id", err)
	}
	return user, nil
}

func (r *PostgresRepo) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE username = $1", userColumns)
	user, err := scanUser(r.pgpool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user by username: %w", types.ErrNotFound)
		}
		return nil, r.storageError(ctx, "get user by username", err)
	}
	return user, nil
}

func (r *PostgresRepo) GetUserByEmailAndProvider(ctx context.Context, email, provider string) (*types.User, error) {
	ctx, span := otel.Tracer("IdentityRepo").Start(ctx, "GetUserByEmailAndProvider", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.sql.table", "users"),
		attribute.String("auth.provider", provider),
	))
	defer span.End()

	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1 AND auth_provider = $2", userColumns)
	user, err := scanUser(r.pgpool.QueryRow(ctx, query, email, provider))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Ok, "no matching user")
			return nil, fmt.Errorf("get user by email and provider: %w", types.ErrNotFound)
		}
		span.SetStatus(codes.Error, "query failed")
		return nil, r.storageError(ctx, "get user by email and provider", err)
	}
	return user, nil
}

func (r *PostgresRepo) CreateUser(ctx context.Context, params types.UserCreateParams) (*types.User, error) {
	ctx, span := otel.Tracer("IdentityRepo").Start(ctx, "CreateUser", trace.WithAttributes(
		semconv.DBSystemPostgreSQL,
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "users"),
		attribute.String("auth.provider", params.AuthProvider),
	))
	defer span.End()

	query := fmt.Sprintf(`
		INSERT INTO users (username, email, full_name, bio, profile_picture_url,
		                   phone_number, is_verified, auth_provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s`, userColumns)

	user, err := scanUser(r.pgpool.QueryRow(ctx, query,
		params.Username, params.Email, params.FullName, params.Bio,
		params.ProfilePictureURL, params.PhoneNumber, params.IsVerified,
		params.AuthProvider))
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the first-login race; the caller re-resolves by re-querying.
			span.SetStatus(codes.Ok, "identity key conflict")
			return nil, fmt.Errorf("create user: %w", types.ErrConflict)
		}
		span.SetStatus(codes.Error, "insert failed")
		return nil, r.storageError(ctx, "create user", err)
	}
	span.SetAttributes(attribute.Int64("user.id", user.ID))
	return user, nil
}

func (r *PostgresRepo) DeleteUser(ctx context.Context, id int64) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return r.storageError(ctx, "delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete user: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepo) UpdateLastSeen(ctx context.Context, id int64) error {
	tag, err := r.pgpool.Exec(ctx,
		"UPDATE users SET last_seen = now(), updated_at = now() WHERE id = $1", id)
	if err != nil {
		return r.storageError(ctx, "update last seen", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update last seen: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepo) GetUserRoles(ctx context.Context, id int64) ([]string, error) {
	rows, err := r.pgpool.Query(ctx, `
		SELECT DISTINCT r.name
		FROM user_roles ur
		JOIN roles r ON ur.role_id = r.id
		WHERE ur.user_id = $1`, id)
	if err != nil {
		return nil, r.storageError(ctx, "get user roles", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, r.storageError(ctx, "get user roles", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, r.storageError(ctx, "get user roles", err)
	}
	return roles, nil
}

func (r *PostgresRepo) AssignRole(ctx context.Context, userID int64, roleName string) error {
	tag, err := r.pgpool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2
		ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleName)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("assign role: %w", types.ErrNotFound)
		}
		return r.storageError(ctx, "assign role", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the role name does not exist or the user already holds it.
		// Distinguish so a typo in a role name does not pass silently.
		var exists bool
		if err := r.pgpool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)", roleName).Scan(&exists); err != nil {
			return r.storageError(ctx, "assign role", err)
		}
		if !exists {
			return fmt.Errorf("assign role %q: %w", roleName, types.ErrNotFound)
		}
	}
	return nil
}

func (r *PostgresRepo) CreateGroup(ctx context.Context, name string) (*types.Group, error) {
	var g types.Group
	err := r.pgpool.QueryRow(ctx,
		"INSERT INTO groups (name) VALUES ($1) RETURNING id, name", name).
		Scan(&g.ID, &g.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create group: %w", types.ErrConflict)
		}
		return nil, r.storageError(ctx, "create group", err)
	}
	return &g, nil
}

func (r *PostgresRepo) GetGroupByID(ctx context.Context, id int64) (*types.Group, error) {
	var g types.Group
	err := r.pgpool.QueryRow(ctx,
		"SELECT id, name FROM groups WHERE id = $1", id).Scan(&g.ID, &g.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get group by id: %w", types.ErrNotFound)
		}
		return nil, r.storageError(ctx, "get group by id", err)
	}
	return &g, nil
}

func (r *PostgresRepo) GetGroupByName(ctx context.Context, name string) (*types.Group, error) {
	var g types.Group
	err := r.pgpool.QueryRow(ctx,
		"SELECT id, name FROM groups WHERE name = $1", name).Scan(&g.ID, &g.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get group by name: %w", types.ErrNotFound)
		}
		return nil, r.storageError(ctx, "get group by name", err)
	}
	return &g, nil
}

func (r *PostgresRepo) DeleteGroup(ctx context.Context, id int64) error {
	tag, err := r.pgpool.Exec(ctx, "DELETE FROM groups WHERE id = $1", id)
	if err != nil {
		return r.storageError(ctx, "delete group", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete group: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepo) AddUserToGroup(ctx context.Context, userID, groupID int64) error {
	_, err := r.pgpool.Exec(ctx, `
		INSERT INTO user_groups (user_id, group_id, member_role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, group_id) DO NOTHING`,
		userID, groupID, types.DefaultMemberRole)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("add user to group: %w", types.ErrNotFound)
		}
		return r.storageError(ctx, "add user to group", err)
	}
	return nil
}

func (r *PostgresRepo) RemoveUserFromGroup(ctx context.Context, userID, groupID int64) error {
	tag, err := r.pgpool.Exec(ctx,
		"DELETE FROM user_groups WHERE user_id = $1 AND group_id = $2", userID, groupID)
	if err != nil {
		return r.storageError(ctx, "remove user from group", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remove user from group: %w", types.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepo) GetUserGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.queryIDs(ctx, "get user groups",
		"SELECT group_id FROM user_groups WHERE user_id = $1", userID)
}

func (r *PostgresRepo) GetGroupUserIDs(ctx context.Context, groupID int64) ([]int64, error) {
	return r.queryIDs(ctx, "get group users",
		"SELECT user_id FROM user_groups WHERE group_id = $1", groupID)
}

func (r *PostgresRepo) queryIDs(ctx context.Context, op, query string, arg any) ([]int64, error) {
	rows, err := r.pgpool.Query(ctx, query, arg)
	if err != nil {
		return nil, r.storageError(ctx, op, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, r.storageError(ctx, op, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, r.storageError(ctx, op, err)
	}
	return ids, nil
}
