package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"order-engine/internal/apperr"
	"order-engine/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// ErrDuplicateKey is wrapped into the error returned when a unique constraint rejects a write
var ErrDuplicateKey = errors.New("duplicate key")

const (
	userColumns    = "id, role, is_deleted, created_at"
	productColumns = "id, name, price, stock, is_deleted, updated_at"
	addressColumns = "id, user_id, title, city, district, detail, is_deleted"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema; every statement is idempotent
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a transaction, committing only when fn succeeds
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbError(err, "commit transaction")
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("user not found: %d", id)
	}
	if err != nil {
		return nil, dbError(err, "get user")
	}
	return &user, nil
}

// GetProduct retrieves a product by ID, including soft-deleted ones
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("product not found: %d", id)
	}
	if err != nil {
		return nil, dbError(err, "get product")
	}
	return &product, nil
}

// GetAddress retrieves an address visible to its owner
func (s *Store) GetAddress(ctx context.Context, id, userID int64) (*models.Address, error) {
	var addr models.Address
	err := s.db.GetContext(ctx, &addr,
		"SELECT "+addressColumns+" FROM addresses WHERE id = $1 AND user_id = $2", id, userID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("address not found: %d", id)
	}
	if err != nil {
		return nil, dbError(err, "get address")
	}
	return &addr, nil
}

// dbError converts driver errors into apperr kinds. Serialization failures and
// deadlocks become Conflict so callers know the operation is safe to retry.
func dbError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return apperr.Conflict(err, "%s: concurrent update, retry", op)
		case "23505":
			return apperr.Conflict(fmt.Errorf("%w: %v", ErrDuplicateKey, err), "%s: duplicate", op)
		case "23514":
			return apperr.Conflict(err, "%s: constraint check failed", op)
		}
	}
	return apperr.Internal(err, "%s", op)
}
