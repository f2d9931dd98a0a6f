// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/splitnpay/splitnpay/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGroupClosed is returned by RecordPayment when the group already
	// reached its goal. No payment row is written in that case.
	ErrGroupClosed = errors.New("group is closed")
)

// Store defines the interface for group and payment storage.
// This abstraction allows swapping storage backends (SQLite for local
// development and tests, PostgreSQL for the hosted database) without
// changing the service layer.
type Store interface {
	// CreateGroup persists a new group and returns the assigned ID.
	// The group.ID field will be populated by the store.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group by its ID.
	// Returns ErrNotFound if the group does not exist.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsByCreator returns all groups created by the given wallet
	// address, newest first.
	ListGroupsByCreator(ctx context.Context, creatorAddress string) ([]*models.Group, error)

	// UpdateGroupDetails updates the descriptive fields (name, photo,
	// description) of an existing group. Amount and status are out of
	// reach on purpose: only RecordPayment may touch them.
	UpdateGroupDetails(ctx context.Context, groupID, name, photo, description string) error

	// RecordPayment atomically appends a payment row and folds its amount
	// into the group's cumulative total, closing the group when the new
	// cumulative reaches the target. The increment runs inside the store
	// (amount_paid = amount_paid + delta) so concurrent payers cannot
	// lose updates. Returns the new cumulative and the resulting status.
	//
	// Returns ErrGroupClosed without writing anything if the group is
	// already closed, and ErrNotFound if it does not exist.
	RecordPayment(ctx context.Context, payment *models.Payment) (newAmountPaid float64, status string, err error)

	// ListPayments returns a group's payment history, newest first.
	ListPayments(ctx context.Context, groupID string) ([]*models.Payment, error)

	// RecordIntent journals a submitted transfer before confirmation, so
	// the reconciliation pass can repair state when the transfer lands
	// on-chain but the payment row never does.
	RecordIntent(ctx context.Context, intent *models.PaymentIntent) error

	// ListOpenIntents returns a group's unresolved intents, oldest first.
	ListOpenIntents(ctx context.Context, groupID string) ([]*models.PaymentIntent, error)

	// ResolveIntent marks an intent as handled (recorded or discarded).
	ResolveIntent(ctx context.Context, intentID string) error

	// CreateUser persists a new user account.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail retrieves a user by email.
	// Returns ErrNotFound if no such user exists.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves a user by ID.
	// Returns ErrNotFound if no such user exists.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Close releases any resources held by the store.
	Close() error
}
