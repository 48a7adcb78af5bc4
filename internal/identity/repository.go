package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors shared by all repository implementations.
var (
	ErrNotFound        = errors.New("user not found")
	ErrPhoneTaken      = errors.New("phone number already registered")
	ErrSecretTaken     = errors.New("verification secret already in use")
	ErrVersionConflict = errors.New("user record was modified concurrently")
)

// Expected schema. Phone and secret uniqueness are enforced here because the
// pre-insert checks in the service layer are racy under concurrent writers;
// the partial index lets any number of users hold an empty secret.
const usersDDL = `
CREATE TABLE users (
    id            uuid PRIMARY KEY,
    phone         text NOT NULL,
    full_name     text NOT NULL,
    password_hash bytea,
    secret        text NOT NULL DEFAULT '',
    verified      boolean NOT NULL DEFAULT false,
    staff         boolean NOT NULL DEFAULT false,
    superuser     boolean NOT NULL DEFAULT false,
    version       bigint NOT NULL DEFAULT 1,
    created_at    timestamptz NOT NULL
);
CREATE UNIQUE INDEX users_phone_key ON users (phone);
CREATE UNIQUE INDEX users_secret_key ON users (secret) WHERE secret <> '';
`

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	// SecretInUse reports whether any user currently holds the given
	// verification secret.
	SecretInUse(ctx context.Context, secret string) (bool, error)
	// UpdateAuthState persists the phone, secret and verified fields of the
	// given user. The stored row must still be at user.Version; on a stale
	// version it returns ErrVersionConflict and writes nothing.
	UpdateAuthState(ctx context.Context, user User) (User, error)
	UpdateFullName(ctx context.Context, id, fullName string) error
	// SetRoles stores the staff and superuser flags.
	SetRoles(ctx context.Context, id string, staff, superuser bool) error
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed user repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, phone, full_name, password_hash, secret, verified, staff, superuser, version, created_at`

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		userID, user.Phone, user.FullName, user.PasswordHash, user.Secret,
		user.Verified, user.Staff, user.Superuser, user.Version, user.CreatedAt.UTC())
	if err != nil {
		switch constraintName(err) {
		case "users_phone_key":
			return ErrPhoneTaken
		case "users_secret_key":
			return ErrSecretTaken
		}
		return err
	}
	return nil
}

// FindByID fetches a user by primary key.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

// FindByPhone fetches a user by normalized phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.scanOne(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone))
}

// SecretInUse reports whether the secret is assigned to any user.
func (r *PostgresRepository) SecretInUse(ctx context.Context, secret string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE secret = $1)`, secret).Scan(&exists)
	return exists, err
}

// UpdateAuthState applies the verification-related fields with an optimistic
// version check so concurrent code requests cannot interleave.
func (r *PostgresRepository) UpdateAuthState(ctx context.Context, user User) (User, error) {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return User{}, ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users
        SET phone = $2, secret = $3, verified = $4, version = version + 1
        WHERE id = $1 AND version = $5`,
		userID, user.Phone, user.Secret, user.Verified, user.Version)
	if err != nil {
		switch constraintName(err) {
		case "users_phone_key":
			return User{}, ErrPhoneTaken
		case "users_secret_key":
			return User{}, ErrSecretTaken
		}
		return User{}, err
	}
	if cmd.RowsAffected() == 0 {
		// Either the row is gone or the version is stale; distinguish so
		// callers can retry conflicts but not resurrect deleted users.
		if _, err := r.FindByID(ctx, user.ID); errors.Is(err, ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, ErrVersionConflict
	}
	user.Version++
	return user, nil
}

// UpdateFullName stores the display name.
func (r *PostgresRepository) UpdateFullName(ctx context.Context, id, fullName string) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET full_name = $2 WHERE id = $1`, userID, fullName)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRoles stores the staff and superuser flags.
func (r *PostgresRepository) SetRoles(ctx context.Context, id string, staff, superuser bool) error {
	userID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET staff = $2, superuser = $3 WHERE id = $1`, userID, staff, superuser)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) scanOne(row pgx.Row) (User, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		user      User
	)
	err := row.Scan(&id, &user.Phone, &user.FullName, &user.PasswordHash, &user.Secret,
		&user.Verified, &user.Staff, &user.Superuser, &user.Version, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	return user, nil
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}
