// Package sqlite provides a SQLite-backed implementation of the
// storage.Store interface. Used for local development and tests; the
// hosted deployment runs the postgres backend against the same interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/splitnpay/splitnpay/internal/models"
	"github.com/splitnpay/splitnpay/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// queues concurrent payments instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateGroup persists a new group to the database.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = time.Now().Unix()
	}
	if group.Status == "" {
		group.Status = models.StatusOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups
			(id, group_name, group_photo, group_description, total_amount,
			 number_of_people, split_amount, amount_paid, status,
			 creator_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Photo, group.Description,
		group.TotalAmount, group.NumberOfPeople, group.SplitAmount,
		group.AmountPaid, group.Status, group.CreatorAddress, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_name, group_photo, group_description, total_amount,
			number_of_people, split_amount, amount_paid, status,
			creator_address, created_at
		 FROM groups WHERE id = ?`,
		groupID,
	).Scan(
		&group.ID, &group.Name, &group.Photo, &group.Description,
		&group.TotalAmount, &group.NumberOfPeople, &group.SplitAmount,
		&group.AmountPaid, &group.Status, &group.CreatorAddress, &group.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return group, nil
}

// ListGroupsByCreator returns all groups created by the given address,
// newest first.
func (s *SQLiteStore) ListGroupsByCreator(ctx context.Context, creatorAddress string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_name, group_photo, group_description, total_amount,
			number_of_people, split_amount, amount_paid, status,
			creator_address, created_at
		 FROM groups WHERE creator_address = ? ORDER BY created_at DESC`,
		creatorAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group := &models.Group{}
		if err := rows.Scan(
			&group.ID, &group.Name, &group.Photo, &group.Description,
			&group.TotalAmount, &group.NumberOfPeople, &group.SplitAmount,
			&group.AmountPaid, &group.Status, &group.CreatorAddress, &group.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// UpdateGroupDetails updates the descriptive fields of a group.
func (s *SQLiteStore) UpdateGroupDetails(ctx context.Context, groupID, name, photo, description string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE groups SET group_name = ?, group_photo = ?, group_description = ? WHERE id = ?",
		name, photo, description, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// RecordPayment appends a payment row and folds its amount into the
// group's cumulative total in a single transaction. The increment happens
// in SQL (amount_paid = amount_paid + ?) rather than read-modify-write,
// so two participants paying at the same time both count.
func (s *SQLiteStore) RecordPayment(ctx context.Context, payment *models.Payment) (float64, string, error) {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.PaidAt == 0 {
		payment.PaidAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM groups WHERE id = ?", payment.GroupID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return 0, "", storage.ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to get group status: %w", err)
	}
	if status == models.StatusClosed {
		return 0, "", storage.ErrGroupClosed
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_payments (id, group_id, payer_address, amount_paid, signature, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.GroupID, payment.PayerAddress,
		payment.Amount, payment.Signature, payment.PaidAt,
	)
	if err != nil {
		return 0, "", fmt.Errorf("failed to insert payment: %w", err)
	}

	// Server-side increment; the guard on status re-checks under the
	// write lock so a payment never lands on a just-closed group.
	res, err := tx.ExecContext(ctx,
		"UPDATE groups SET amount_paid = amount_paid + ? WHERE id = ? AND status = ?",
		payment.Amount, payment.GroupID, models.StatusOpen,
	)
	if err != nil {
		return 0, "", fmt.Errorf("failed to update amount paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, "", storage.ErrGroupClosed
	}

	var newPaid, total float64
	err = tx.QueryRowContext(ctx,
		"SELECT amount_paid, total_amount FROM groups WHERE id = ?", payment.GroupID,
	).Scan(&newPaid, &total)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read new amount paid: %w", err)
	}

	status = models.StatusOpen
	if newPaid >= total {
		if _, err := tx.ExecContext(ctx,
			"UPDATE groups SET status = ? WHERE id = ?",
			models.StatusClosed, payment.GroupID,
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
func (s *SQLiteStore) ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, payer_address, amount_paid, signature, paid_at
		 FROM group_payments WHERE group_id = ? ORDER BY paid_at DESC, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		if err := rows.Scan(&p.ID, &p.GroupID, &p.PayerAddress, &p.Amount, &p.Signature, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// RecordIntent journals a submitted transfer before confirmation.
func (s *SQLiteStore) RecordIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == "" {
		intent.ID = uuid.New().String()
	}
	if intent.SubmittedAt == 0 {
		intent.SubmittedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_intents
			(id, group_id, payer_address, amount, signature, last_valid_block_height, submitted_at, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		intent.ID, intent.GroupID, intent.PayerAddress, intent.Amount,
		intent.Signature, intent.LastValidBlockHeight, intent.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// ListOpenIntents returns a group's unresolved intents, oldest first.
func (s *SQLiteStore) ListOpenIntents(ctx context.Context, groupID string) ([]*models.PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, payer_address, amount, signature, last_valid_block_height, submitted_at, resolved
		 FROM payment_intents WHERE group_id = ? AND resolved = 0 ORDER BY submitted_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		in := &models.PaymentIntent{}
		if err := rows.Scan(&in.ID, &in.GroupID, &in.PayerAddress, &in.Amount,
			&in.Signature, &in.LastValidBlockHeight, &in.SubmittedAt, &in.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate intents: %w", err)
	}
	return intents, nil
}

// ResolveIntent marks an intent as handled.
func (s *SQLiteStore) ResolveIntent(ctx context.Context, intentID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payment_intents SET resolved = 1 WHERE id = ?", intentID)
	if err != nil {
		return fmt.Errorf("failed to resolve intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CreateUser persists a new user account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, wallet_address, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.DisplayName, user.PasswordHash,
		user.WalletAddress, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "email = ?", email)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, wallet_address, created_at
		 FROM users WHERE `+where,
		arg,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.WalletAddress, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
