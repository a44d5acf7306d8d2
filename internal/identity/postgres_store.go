package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresUserStore persists accounts in PostgreSQL
type PostgresUserStore struct {
	db *sqlx.DB
}

// NewPostgresUserStore creates a PostgreSQL-backed user store. db must use
// the "postgres" driver so sqlx binds $N placeholders.
func NewPostgresUserStore(db *sqlx.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Create inserts a new user
func (p *PostgresUserStore) Create(ctx context.Context, user *User) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (:id, :email, :password_hash, :created_at)
	`, user)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrEmailTaken
	}
	return err
}

// GetByEmail retrieves a user by normalized email
func (p *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.get(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`, email)
}

// GetByID retrieves a user by ID
func (p *PostgresUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return p.get(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id)
}

func (p *PostgresUserStore) get(ctx context.Context, query, arg string) (*User, error) {
	var u User
	err := p.db.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Ping checks database connectivity.
func (p *PostgresUserStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
