package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account. The hosted identity provider of
// the original product is replaced by first-party email/password accounts;
// the wallet address is what actually matters to settlement.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string `db:"id"`

	// Email is the user's email address (unique). Used for login.
	Email string `db:"email"`

	// DisplayName is the name shown next to payments and groups.
	DisplayName string `db:"display_name"`

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string `db:"password_hash"`

	// WalletAddress is the user's base58 ledger address. Empty until the
	// user connects a wallet; settlement requires it.
	WalletAddress string `db:"wallet_address"`

	// CreatedAt is the Unix timestamp when the account was created.
	CreatedAt int64 `db:"created_at"`
}

// NewUser builds a user with a fresh ID and creation timestamp.
func NewUser(email, displayName, passwordHash, walletAddress string) *User {
	return &User{
		ID:            uuid.New().String(),
		Email:         email,
		DisplayName:   displayName,
		PasswordHash:  passwordHash,
		WalletAddress: walletAddress,
		CreatedAt:     time.Now().Unix(),
	}
}

// Session is the authenticated caller, built by the auth middleware and
// passed explicitly into services. Keeping it a plain value (rather than
// reading identity out of ambient context inside the workflow) makes the
// settlement preconditions testable in isolation.
type Session struct {
	UserID        string
	Email         string
	WalletAddress string
}

// HasWallet reports whether the session can sign transfers.
func (s Session) HasWallet() bool {
	return s.WalletAddress != ""
}
