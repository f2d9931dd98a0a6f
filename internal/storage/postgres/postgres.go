// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface, used against the hosted database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/storage"
)

// Ensure PostgresStore implements storage.Store
var _ storage.Store = (*PostgresStore)(nil)

// PostgresStore implements storage.Store using PostgreSQL.
type PostgresStore struct {
	db *sqlx.DB
}

// New connects to PostgreSQL with the given DSN and runs migrations.
func New(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateGroup persists a new group to the database.
func (s *PostgresStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}
	if group.Status == "" {
		group.Status = models.StatusOpen
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO groups
			(id, group_name, group_photo, group_description, total_amount,
			 number_of_people, split_amount, amount_paid, status,
			 creator_address, created_at)
		 VALUES (:id, :group_name, :group_photo, :group_description, :total_amount,
			 :number_of_people, :split_amount, :amount_paid, :status,
			 :creator_address, :created_at)`,
		group,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.db.GetContext(ctx, group,
		"SELECT * FROM groups WHERE id = $1", groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroupsByCreator returns all groups created by the given address,
// newest first.
func (s *PostgresStore) ListGroupsByCreator(ctx context.Context, creatorAddress string) ([]*models.Group, error) {
	var groups []*models.Group
	err := s.db.SelectContext(ctx, &groups,
		"SELECT * FROM groups WHERE creator_address = $1 ORDER BY created_at DESC",
		creatorAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	return groups, nil
}

// UpdateGroupDetails updates the descriptive fields of a group.
func (s *PostgresStore) UpdateGroupDetails(ctx context.Context, groupID, name, photo, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET group_name = $2, group_photo = $3, group_description = $4
		 WHERE id = $1`,
		groupID, name, photo, description)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordPayment appends a payment row and folds its amount into the
// group's cumulative total in a single transaction. The increment is a
// single UPDATE with RETURNING, so concurrent payers serialize on the
// group row instead of clobbering each other's reads.
func (s *PostgresStore) RecordPayment(ctx context.Context, payment *models.Payment) (float64, string, error) {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.PaidAt == 0 {
		payment.PaidAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var newPaid, total float64
	err = tx.QueryRowContext(ctx,
		`UPDATE groups SET amount_paid = amount_paid + $1
		 WHERE id = $2 AND status = $3
		 RETURNING amount_paid, total_amount`,
		payment.Amount, payment.GroupID, models.StatusOpen,
	).Scan(&newPaid, &total)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the group is closed or it does not exist.
		var status string
		lookupErr := tx.QueryRowContext(ctx,
			"SELECT status FROM groups WHERE id = $1", payment.GroupID,
		).Scan(&status)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return 0, "", storage.ErrNotFound
		}
		if lookupErr != nil {
			return 0, "", fmt.Errorf("failed to get group status: %w", lookupErr)
		}
		return 0, "", storage.ErrGroupClosed
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to update amount paid: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_payments (id, group_id, payer_address, amount_paid, signature, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		payment.ID, payment.GroupID, payment.PayerAddress,
		payment.Amount, payment.Signature, payment.PaidAt,
	)
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert payment: %w", err)
	}

	status := models.StatusOpen
	if newPaid >= total {
		if _, err := tx.ExecContext(ctx,
			"UPDATE groups SET status = $2 WHERE id = $1",
			payment.GroupID, models.StatusClosed,
		); err != nil {
			return 0, "", fmt.Errorf("failed to close group: %w", err)
		}
		status = models.StatusClosed
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return newPaid, status, nil
}

// ListPayments returns a group's payment history, newest first.
func (s *PostgresStore) ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.db.SelectContext(ctx, &payments,
		`SELECT * FROM group_payments WHERE group_id = $1 ORDER BY paid_at DESC, id`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

// RecordIntent journals a submitted transfer before confirmation.
func (s *PostgresStore) RecordIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.SubmittedAt == 0 {
		intent.SubmittedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_intents
			(id, group_id, payer_address, amount, signature, last_valid_block_height, submitted_at, resolved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)`,
		intent.ID, intent.GroupID, intent.PayerAddress, intent.Amount,
		intent.Signature, intent.LastValidBlockHeight, intent.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// ListOpenIntents returns a group's unresolved intents, oldest first.
func (s *PostgresStore) ListOpenIntents(ctx context.Context, groupID string) ([]*models.PaymentIntent, error) {
	var intents []*models.PaymentIntent
	err := s.db.SelectContext(ctx, &intents,
		`SELECT * FROM payment_intents
		 WHERE group_id = $1 AND resolved = FALSE ORDER BY submitted_at`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	return intents, nil
}

// ResolveIntent marks an intent as handled.
func (s *PostgresStore) ResolveIntent(ctx context.Context, intentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payment_intents SET resolved = TRUE WHERE id = $1", intentID)
	if err != nil {
		return fmt.Errorf("failed to resolve intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateUser persists a new user account.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, wallet_address, created_at)
		 VALUES (:id, :email, :display_name, :password_hash, :wallet_address, :created_at)`,
		user)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE email = $1", email)
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE id = $1", id)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	user := &models.User{}
	err := s.db.GetContext(ctx, user, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
